package threads

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/strandlabs/strand/pkg/models"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	return db, mock, NewPostgresStore(db)
}

func threadRows(id string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "project_id", "user_id", "created_at", "updated_at"}).
		AddRow(id, "project-1", "user-1", now, now)
}

func existsRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"?column?"}).AddRow(1)
}

func TestPostgresCreateThread(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO threads").
		WithArgs(sqlmock.AnyArg(), "project-1", "user-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	thread, err := store.CreateThread(context.Background(), "project-1", "user-1")
	if err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	if thread.ID == "" {
		t.Fatal("CreateThread() returned empty id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresGetThread(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery("SELECT id, project_id, user_id").
		WithArgs("t1").
		WillReturnRows(threadRows("t1"))

	thread, err := store.GetThread(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetThread() error = %v", err)
	}
	if thread.ProjectID != "project-1" {
		t.Fatalf("GetThread() project = %q", thread.ProjectID)
	}

	mock.ExpectQuery("SELECT id, project_id, user_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	if _, err := store.GetThread(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetThread(missing) error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresAppendAssistantMessage(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM threads").WithArgs("t1").WillReturnRows(existsRow())
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), "t1", "assistant", sqlmock.AnyArg(), sqlmock.AnyArg(), "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE threads SET updated_at").
		WithArgs(sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	stored, err := store.AppendMessage(context.Background(), "t1", assistantWithCalls(nativeCall("call_1", "tool_a")))
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if stored.ID == "" || stored.CreatedAt.IsZero() {
		t.Fatalf("AppendMessage() did not fill id/created_at: %+v", stored)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresAppendUserRepairsFirst(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	// Repair pass: clean transcript, transaction released without writes.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM threads").WithArgs("t1").WillReturnRows(existsRow())
	mock.ExpectQuery("SELECT seq, role, tool_calls FROM messages").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "role", "tool_calls"}))
	mock.ExpectRollback()

	// Then the append itself.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM threads").WithArgs("t1").WillReturnRows(existsRow())
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), "t1", "user", sqlmock.AnyArg(), nil, "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE threads SET updated_at").
		WithArgs(sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := store.AppendMessage(context.Background(), "t1", models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresRepairInsertsPlaceholder(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	calls := `[{"id":"call_1","type":"function","function":{"name":"first_tool","arguments":"{}"}},` +
		`{"id":"call_2","type":"function","function":{"name":"second_tool","arguments":"{}"}}]`

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM threads").WithArgs("t1").WillReturnRows(existsRow())
	mock.ExpectQuery("SELECT seq, role, tool_calls FROM messages").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "role", "tool_calls"}).
			AddRow(1, "user", nil).
			AddRow(2, "assistant", []byte(calls)).
			AddRow(3, "tool", nil))
	mock.ExpectExec("UPDATE messages SET seq").
		WithArgs(1, "t1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), "t1", 3, "tool", sqlmock.AnyArg(), "call_2", "second_tool", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	n, err := store.RepairIncompleteToolCalls(context.Background(), "t1")
	if err != nil {
		t.Fatalf("RepairIncompleteToolCalls() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("RepairIncompleteToolCalls() = %d, want 1", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresUpdateLastAssistantMissing(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec("UPDATE messages SET content").
		WithArgs(sqlmock.AnyArg(), nil, "t1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateLastAssistant(context.Background(), "t1", models.Message{Content: "x"})
	if !errors.Is(err, ErrNoAssistantMessage) {
		t.Fatalf("UpdateLastAssistant() error = %v, want ErrNoAssistantMessage", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresListMessagesDecodesContent(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	now := time.Now()
	parts := `[{"type":"text","text":"look"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA","detail":"high"}}]`
	calls := `[{"id":"call_1","type":"function","function":{"name":"tool_a","arguments":"{}"}}]`

	mock.ExpectQuery("SELECT id, project_id, user_id").WithArgs("t1").WillReturnRows(threadRows("t1"))
	mock.ExpectQuery("SELECT id, role, content, tool_calls").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "role", "content", "tool_calls", "tool_call_id", "name", "created_at"}).
			AddRow("m1", "user", []byte(parts), nil, "", "", now).
			AddRow("m2", "assistant", []byte(`"plain reply"`), []byte(calls), "", "", now).
			AddRow("m3", "tool", []byte(`"out"`), nil, "call_1", "tool_a", now))

	messages, err := store.ListMessages(context.Background(), "t1", ListFilter{})
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("ListMessages() returned %d messages", len(messages))
	}
	if len(messages[0].Parts) != 2 || messages[0].Content != "" {
		t.Fatalf("multi-part message decoded as %+v", messages[0])
	}
	if messages[1].Content != "plain reply" || len(messages[1].ToolCalls) != 1 {
		t.Fatalf("assistant decoded as %+v", messages[1])
	}
	if messages[1].ToolCalls[0].Function.Name != "tool_a" {
		t.Fatalf("tool call decoded as %+v", messages[1].ToolCalls[0])
	}
	if messages[2].ToolCallID != "call_1" {
		t.Fatalf("tool message decoded as %+v", messages[2])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
