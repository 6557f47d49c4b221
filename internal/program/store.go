package program

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS programs (
	name        TEXT PRIMARY KEY,
	body        TEXT NOT NULL,
	points      INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
)`

// Summary 是程序列表中的一项
type Summary struct {
	Name        string `json:"name"`
	PointsCount int    `json:"points_count"`
}

// Store 基于 SQLite 的程序存储
type Store struct {
	db *sql.DB
}

// OpenStore 打开 (或创建) 程序数据库，path 为 ":memory:" 时使用内存库 (测试用)
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("创建程序目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// 单连接，避免 "database is locked"，同时让 :memory: 库在连接间共享
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// Save 按名称保存程序，同名覆盖
func (s *Store) Save(p *Program) error {
	if err := ValidateName(p.Name); err != nil {
		return err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO programs (name, body, points, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, points = excluded.points, updated_at = excluded.updated_at`,
		p.Name, string(body), len(p.Points), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("saving program %s: %w", p.Name, err)
	}
	return nil
}

// Load 按名称加载程序
func (s *Store) Load(name string) (*Program, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM programs WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading program %s: %w", name, err)
	}

	var p Program
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("decoding program %s: %w", name, err)
	}
	return &p, nil
}

// List 返回所有程序摘要，按名称排序
func (s *Store) List() ([]Summary, error) {
	rows, err := s.db.Query(`SELECT name, points FROM programs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.Name, &sum.PointsCount); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete 删除程序
func (s *Store) Delete(name string) error {
	res, err := s.db.Exec(`DELETE FROM programs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting program %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}
