package cvedb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"Fenrir/internal/model"
	"Fenrir/internal/utils"
)

// MemoryPath 内存数据库，主要用于测试
const MemoryPath = ":memory:"

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("漏洞记录不存在")

// Store 基于SQLite的漏洞记录库，以漏洞ID为主键
type Store struct {
	db     *sql.DB
	path   string
	logger *utils.Logger
}

// UpdateRecord 一次导入的历史记录
type UpdateRecord struct {
	ID         int       `json:"id"`
	LastUpdate time.Time `json:"last_update"`
	Source     string    `json:"source"`
	Loaded     int       `json:"loaded"`
	Skipped    int       `json:"skipped"`
}

// Open 打开（必要时创建）漏洞库
func Open(dbPath string) (*Store, error) {
	logger := utils.NewLogger("cvedb")

	if dbPath != MemoryPath {
		// 确保目录存在
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if dbPath == MemoryPath {
		// 每个连接各自持有独立的内存库
		db.SetMaxOpenConns(1)
	}

	store := &Store{
		db:     db,
		path:   dbPath,
		logger: logger,
	}

	if err := store.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据表失败: %w", err)
	}
	return store, nil
}

func (s *Store) initTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vulnerabilities (
		cve_id TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		cvss_v3_score REAL,
		severity TEXT NOT NULL DEFAULT 'UNKNOWN',
		published_date TEXT
	);

	CREATE TABLE IF NOT EXISTS update_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		last_update TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		source TEXT,
		records_added INTEGER,
		records_skipped INTEGER
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Path 数据库文件路径
func (s *Store) Path() string {
	return s.path
}

// Put 插入或整体覆盖同ID的记录，不做字段合并
func (s *Store) Put(record model.VulnerabilityRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	return putRecord(s.db, record)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func putRecord(ex execer, record model.VulnerabilityRecord) error {
	var published interface{}
	if !record.PublishedDate.IsZero() {
		published = record.PublishedDate.UTC().Format(time.RFC3339)
	}

	_, err := ex.Exec(`
		INSERT OR REPLACE INTO vulnerabilities
		(cve_id, description, cvss_v3_score, severity, published_date)
		VALUES (?, ?, ?, ?, ?)`,
		record.ID, record.Description, record.CVSSV3Score, string(record.Severity), published,
	)
	if err != nil {
		return fmt.Errorf("写入漏洞记录 %s 失败: %w", record.ID, err)
	}
	return nil
}

// Get 按ID读取记录
func (s *Store) Get(id string) (model.VulnerabilityRecord, error) {
	row := s.db.QueryRow(`
		SELECT cve_id, description, cvss_v3_score, severity, published_date
		FROM vulnerabilities WHERE cve_id = ?`, id)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VulnerabilityRecord{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return record, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (model.VulnerabilityRecord, error) {
	var (
		record    model.VulnerabilityRecord
		score     sql.NullFloat64
		severity  string
		published sql.NullString
	)
	if err := row.Scan(&record.ID, &record.Description, &score, &severity, &published); err != nil {
		return model.VulnerabilityRecord{}, err
	}
	if score.Valid {
		record.CVSSV3Score = model.Score(score.Float64)
	}
	record.Severity = model.Severity(severity)
	if published.Valid {
		record.PublishedDate = parseDate(published.String)
	}
	return record, nil
}

// Count 获取记录总数
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM vulnerabilities").Scan(&count)
	return count, err
}

// recordUpdate 记录一次导入
func (s *Store) recordUpdate(source string, report LoadReport) {
	_, err := s.db.Exec(`
		INSERT INTO update_history (source, records_added, records_skipped)
		VALUES (?, ?, ?)`,
		source, report.Loaded, report.Skipped,
	)
	if err != nil {
		s.logger.Error("记录更新历史失败: %v", err)
	}
}

// History 获取最近的导入历史
func (s *Store) History(limit int) ([]UpdateRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT id, last_update, source, records_added, records_skipped
		FROM update_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []UpdateRecord
	for rows.Next() {
		var h UpdateRecord
		if err := rows.Scan(&h.ID, &h.LastUpdate, &h.Source, &h.Loaded, &h.Skipped); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
