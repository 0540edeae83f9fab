package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestInsertMessage(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	msg := Message{
		ChatID:    "chat-1",
		Role:      "assistant",
		Content:   "the budget doc is in Drive [1]",
		Citations: json.RawMessage(`[{"docId":"drive-42","title":"Q3 budget.xlsx","url":"https://drive/q3","app":"drive","entity":"file"}]`),
	}

	query := regexp.QuoteMeta(`INSERT INTO messages (chat_id, role, content, citations, error) VALUES ($1,$2,$3,$4,$5) RETURNING id`)
	mock.ExpectQuery(query).
		WithArgs(msg.ChatID, msg.Role, msg.Content, []byte(msg.Citations), nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("msg-1"))

	id, err := st.InsertMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if id != "msg-1" {
		t.Errorf("id = %q", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertMessageDefaultsEmptyCitations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	errMsg := "planning call failed"
	msg := Message{ChatID: "chat-1", Role: "assistant", Content: "", ErrorMsg: &errMsg}

	query := regexp.QuoteMeta(`INSERT INTO messages (chat_id, role, content, citations, error) VALUES ($1,$2,$3,$4,$5) RETURNING id`)
	mock.ExpectQuery(query).
		WithArgs(msg.ChatID, msg.Role, msg.Content, []byte(`[]`), &errMsg).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("msg-2"))

	if _, err := st.InsertMessage(context.Background(), msg); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertChatTrace(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	trace := json.RawMessage(`[{"kind":"Iteration","iteration":1}]`)

	query := regexp.QuoteMeta(`INSERT INTO chat_traces (chat_id, message_id, trace) VALUES ($1,$2,$3)`)
	mock.ExpectExec(query).
		WithArgs("chat-1", "msg-1", []byte(trace)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.InsertChatTrace(context.Background(), "chat-1", "msg-1", trace); err != nil {
		t.Fatalf("InsertChatTrace: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListRecentMessagesOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "chat_id", "role", "content", "citations", "error", "created_at"}).
		AddRow("m1", "chat-1", "user", "find the budget", []byte(`[]`), nil, now.Add(-time.Minute)).
		AddRow("m2", "chat-1", "assistant", "found it [1]", []byte(`[]`), nil, now)

	mock.ExpectQuery("SELECT id, chat_id, role, content, citations, error, created_at FROM").
		WithArgs("chat-1", 20).
		WillReturnRows(rows)

	msgs, err := st.ListRecentMessages(context.Background(), "chat-1", 0)
	if err != nil {
		t.Fatalf("ListRecentMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("messages = %+v", msgs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetChatByExternalIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery("SELECT id, user_id, external_id, title, created_at, updated_at FROM chats").
		WithArgs("user-1", "ext-404").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "external_id", "title", "created_at", "updated_at"}))

	_, err = st.GetChatByExternalID(context.Background(), "user-1", "ext-404")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateChatTitleNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectExec("UPDATE chats SET title").
		WithArgs("New title", "chat-404", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = st.UpdateChatTitle(context.Background(), "chat-404", "user-1", "New title")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPruneTraces(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM chat_traces WHERE created_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := st.PruneTraces(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PruneTraces: %v", err)
	}
	if n != 7 {
		t.Errorf("pruned = %d, want 7", n)
	}
}

func TestGetUserEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`SELECT email FROM users WHERE id=$1`)
	mock.ExpectQuery(query).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("sam@acme.test"))

	email, err := st.GetUserEmail(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetUserEmail: %v", err)
	}
	if email != "sam@acme.test" {
		t.Errorf("email = %q", email)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAnnotateMessageError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`UPDATE messages SET error=$1 WHERE id=$2`)
	mock.ExpectExec(query).
		WithArgs("planning call failed", "msg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.AnnotateMessageError(context.Background(), "msg-1", "planning call failed"); err != nil {
		t.Fatalf("AnnotateMessageError: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAnnotateMessageErrorMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`UPDATE messages SET error=$1 WHERE id=$2`)
	mock.ExpectExec(query).
		WithArgs("boom", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.AnnotateMessageError(context.Background(), "missing", "boom"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
