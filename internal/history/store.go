package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry 是一次完成的风险分析记录。
type Entry struct {
	ConversationID string         `json:"conversation_id"`
	Summary        string         `json:"summary"`
	OverallRisk    string         `json:"overall_risk,omitempty"`
	Risks          int            `json:"risks"`
	BySeverity     map[string]int `json:"by_severity,omitempty"`
	TS             time.Time      `json:"ts"`
}

// Store 以 JSONL 追加方式保存分析记录。
type Store struct {
	Path string
	mu   sync.Mutex
}

func New(path string) *Store {
	return &Store{Path: path}
}

func (s *Store) ensureDir() error {
	if s == nil || strings.TrimSpace(s.Path) == "" {
		return errors.New("reports store path is empty")
	}
	return os.MkdirAll(filepath.Dir(s.Path), 0o755)
}

func (s *Store) Append(entry Entry) error {
	if s == nil {
		return errors.New("reports store is nil")
	}
	if strings.TrimSpace(entry.ConversationID) == "" {
		return errors.New("report entry has no conversation id")
	}
	if entry.TS.IsZero() {
		entry.TS = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureDir(); err != nil {
		return err
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// Load 读取全部记录，conversationID 非空时只返回该会话的记录；损坏的行被跳过。
func (s *Store) Load(conversationID string) ([]Entry, error) {
	if s == nil {
		return nil, errors.New("reports store is nil")
	}
	if strings.TrimSpace(s.Path) == "" {
		return nil, errors.New("reports store path is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var out []Entry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		if conversationID != "" && e.ConversationID != conversationID {
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
