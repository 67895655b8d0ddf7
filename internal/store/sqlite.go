package store

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// Create events table
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL,
		level TEXT,
		code TEXT,
		msg TEXT,
		meta TEXT
	)`); err != nil {
		return nil, err
	}

	// Create requests table with full turn content
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS requests(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL,
		trace_id TEXT,
		req_id TEXT,
		worker_id TEXT,
		source TEXT,
		model TEXT,
		prompt TEXT,
		prompt_len INTEGER,
		params_json TEXT,
		streamed INTEGER,
		response_text TEXT,
		tokens_in INTEGER,
		tokens_out INTEGER,
		dur_ms REAL,
		status TEXT,
		error TEXT
	)`); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

func (db *DB) Event(level, code, msg string, meta map[string]interface{}) {
	m := ""
	if meta != nil {
		b, _ := json.Marshal(meta)
		m = string(b)
	}
	_, _ = db.Exec(`INSERT INTO events(ts,level,code,msg,meta) VALUES(?,?,?,?,?)`,
		float64(time.Now().UnixNano())/1e9, level, code, msg, m)
}

func (db *DB) Req(start time.Time, traceID, reqID, workerID, source, model, prompt, responseText, params string,
	streamed bool, tokIn, tokOut int, dur time.Duration, status, errStr string) {
	_, _ = db.Exec(`INSERT INTO requests(
		ts, trace_id, req_id, worker_id, source, model, prompt, prompt_len, params_json, streamed, response_text, tokens_in, tokens_out, dur_ms, status, error)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		float64(start.UnixNano())/1e9, traceID, reqID, workerID, source, model, prompt, len(prompt), params, streamed, responseText, tokIn, tokOut, float64(dur.Milliseconds()), status, errStr)
}
