package threads

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/pkg/models"
)

// SQLiteStore persists threads and messages in a local SQLite file.
// Timestamps are stored as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed thread store on an open db.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) CreateThread(ctx context.Context, projectID, userID string) (*models.Thread, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}
	now := time.Now().UTC()
	thread := &models.Thread{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, project_id, user_id, created_at, updated_at)
		 VALUES (?,?,?,?,?)`,
		thread.ID, thread.ProjectID, thread.UserID, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return thread, nil
}

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, user_id, created_at, updated_at FROM threads WHERE id = ?`, id)

	var thread models.Thread
	var created, updated int64
	if err := row.Scan(&thread.ID, &thread.ProjectID, &thread.UserID, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get thread: %w", err)
	}
	thread.CreatedAt = time.Unix(0, created).UTC()
	thread.UpdatedAt = time.Unix(0, updated).UTC()
	return &thread, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, threadID string, msg models.Message) (models.Message, error) {
	if msg.Role == "" {
		return models.Message{}, fmt.Errorf("message role is required")
	}
	if msg.Role == models.RoleUser {
		if _, err := s.RepairIncompleteToolCalls(ctx, threadID); err != nil {
			return models.Message{}, fmt.Errorf("repair before append: %w", err)
		}
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ThreadID = threadID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	content, err := encodeContent(msg)
	if err != nil {
		return models.Message{}, err
	}
	toolCalls, err := encodeToolCalls(msg.ToolCalls)
	if err != nil {
		return models.Message{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("begin append: %w", err)
	}
	if err := threadExistsTx(ctx, tx, threadID, "?"); err != nil {
		_ = tx.Rollback()
		return models.Message{}, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, seq, role, content, tool_calls, tool_call_id, name, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE thread_id = ?), ?, ?, ?, ?, ?, ?)`,
		msg.ID, threadID, threadID, string(msg.Role), content, toolCalls, msg.ToolCallID, msg.Name, msg.CreatedAt.UnixNano())
	if err != nil {
		_ = tx.Rollback()
		return models.Message{}, fmt.Errorf("append message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`, time.Now().UTC().UnixNano(), threadID); err != nil {
		_ = tx.Rollback()
		return models.Message{}, fmt.Errorf("touch thread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Message{}, fmt.Errorf("commit append: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) UpdateLastAssistant(ctx context.Context, threadID string, msg models.Message) error {
	content, err := encodeContent(msg)
	if err != nil {
		return err
	}
	toolCalls, err := encodeToolCalls(msg.ToolCalls)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, tool_calls = ?
		 WHERE id = (
			SELECT id FROM messages WHERE thread_id = ? AND role = 'assistant' ORDER BY seq DESC LIMIT 1
		 )`,
		content, toolCalls, threadID)
	if err != nil {
		return fmt.Errorf("update last assistant: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update last assistant rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNoAssistantMessage
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, threadID string, filter ListFilter) ([]models.Message, error) {
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, tool_calls, tool_call_id, name, created_at
		 FROM messages WHERE thread_id = ? ORDER BY seq`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		var role string
		var content, toolCalls []byte
		var created int64
		if err := rows.Scan(&msg.ID, &role, &content, &toolCalls, &msg.ToolCallID, &msg.Name, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ThreadID = threadID
		msg.Role = models.Role(role)
		msg.CreatedAt = time.Unix(0, created).UTC()
		if err := decodeContent(content, &msg); err != nil {
			return nil, err
		}
		if err := decodeToolCalls(toolCalls, &msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return applyFilter(messages, filter), nil
}

func (s *SQLiteStore) RepairIncompleteToolCalls(ctx context.Context, threadID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin repair: %w", err)
	}
	if err := threadExistsTx(ctx, tx, threadID, "?"); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT seq, role, tool_calls FROM messages WHERE thread_id = ? ORDER BY seq`, threadID)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("load transcript: %w", err)
	}
	var messages []models.Message
	var seqs []int64
	for rows.Next() {
		var seq int64
		var role string
		var toolCalls []byte
		if err := rows.Scan(&seq, &role, &toolCalls); err != nil {
			rows.Close()
			_ = tx.Rollback()
			return 0, fmt.Errorf("scan transcript: %w", err)
		}
		msg := models.Message{Role: models.Role(role)}
		if err := decodeToolCalls(toolCalls, &msg); err != nil {
			rows.Close()
			_ = tx.Rollback()
			return 0, err
		}
		messages = append(messages, msg)
		seqs = append(seqs, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("load transcript: %w", err)
	}

	anchor, placeholders := missingToolResults(messages)
	if len(placeholders) == 0 {
		_ = tx.Rollback()
		return 0, nil
	}
	anchorSeq := seqs[anchor]

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET seq = seq + ? WHERE thread_id = ? AND seq > ?`,
		len(placeholders), threadID, anchorSeq); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("shift messages: %w", err)
	}
	now := time.Now().UTC()
	for i, ph := range placeholders {
		content, err := encodeContent(ph)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, thread_id, seq, role, content, tool_calls, tool_call_id, name, created_at)
			 VALUES (?,?,?,?,?,NULL,?,?,?)`,
			uuid.NewString(), threadID, anchorSeq+int64(i)+1, string(models.RoleTool),
			content, ph.ToolCallID, ph.Name, now.UnixNano()); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert placeholder: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit repair: %w", err)
	}
	return len(placeholders), nil
}

var _ Store = (*SQLiteStore)(nil)
