package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock"), nil), mock
}

func TestWithinTx_CommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(tx *Tx) error { return nil })
	if err != nil {
		t.Fatalf("WithinTx returned error: %v", err)
	}
	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", mockErr)
	}
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(tx *Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom error, got %v", err)
	}
	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", mockErr)
	}
}

func TestEnsureRuntimeConfigTable_RunsIdempotentDDL(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS gp_market_runtime_config").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(tx *Tx) error {
		return tx.EnsureRuntimeConfigTable(context.Background())
	})
	if err != nil {
		t.Fatalf("EnsureRuntimeConfigTable returned error: %v", err)
	}
	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", mockErr)
	}
}

func TestUpsertRow_BindsPrimaryKeyAndData(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()

	data, _ := json.Marshal(map[string]any{"name": "Bon Beauty"})
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (instance_id, market_id, section, record_key)")).
		WithArgs("gp-dev", "bonbeauty", "market", "market", data).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(tx *Tx) error {
		return tx.UpsertRow(context.Background(), Row{
			InstanceID: "gp-dev",
			MarketID:   "bonbeauty",
			Section:    "market",
			RecordKey:  "market",
			Data:       JSONBDocument{"name": "Bon Beauty"},
		})
	})
	if err != nil {
		t.Fatalf("UpsertRow returned error: %v", err)
	}
	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", mockErr)
	}
}

func TestGetRow_ReturnsNilWhenAbsent(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT instance_id, market_id, section, record_key, data, created_at, updated_at").
		WithArgs("gp-dev", "bonbeauty", "market", "market").
		WillReturnRows(sqlmock.NewRows([]string{"instance_id", "market_id", "section", "record_key", "data", "created_at", "updated_at"}))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(tx *Tx) error {
		row, err := tx.GetRow(context.Background(), "gp-dev", "bonbeauty", "market", "market")
		if err != nil {
			return err
		}
		if row != nil {
			t.Errorf("expected nil row, got %+v", row)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("GetRow returned error: %v", err)
	}
	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", mockErr)
	}
}

func TestGetRow_DecodesJSONBData(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()

	now := time.Now().Truncate(time.Second)
	rows := sqlmock.NewRows([]string{"instance_id", "market_id", "section", "record_key", "data", "created_at", "updated_at"}).
		AddRow("gp-dev", "bonbeauty", "market", "market", []byte(`{"name":"Bon Beauty"}`), now, now)
	mock.ExpectQuery("SELECT instance_id, market_id, section, record_key, data, created_at, updated_at").
		WithArgs("gp-dev", "bonbeauty", "market", "market").
		WillReturnRows(rows)
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(tx *Tx) error {
		row, err := tx.GetRow(context.Background(), "gp-dev", "bonbeauty", "market", "market")
		if err != nil {
			return err
		}
		if row == nil {
			t.Fatal("expected a row")
		}
		if row.Data["name"] != "Bon Beauty" {
			t.Errorf("unexpected data: %v", row.Data)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("GetRow returned error: %v", err)
	}
	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", mockErr)
	}
}

func TestDeleteRows_ReturnsAffectedCount(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM gp_market_runtime_config").
		WithArgs("gp-dev", "bonbeauty").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(tx *Tx) error {
		n, err := tx.DeleteRows(context.Background(), "gp-dev", "bonbeauty")
		if err != nil {
			return err
		}
		if n != 3 {
			t.Errorf("expected 3 deleted rows, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("DeleteRows returned error: %v", err)
	}
	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", mockErr)
	}
}
