package postgres

import (
	"context"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/avatar"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/component"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/subaccount"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage"
	apperr "github.com/NeoAvatars/avatar_layer/internal/errors"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := New(db)
	ctx := context.Background()

	tpl, err := store.CreateTemplate(ctx, component.Template{
		Name:      "Sunset",
		Creator:   "alice",
		Type:      component.TypeBackground,
		MaxSupply: 2,
		Price:     10,
		Payload:   []byte("<rect/>"),
		Active:    true,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	if _, err := store.ReserveSupply(ctx, tpl.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.ReserveSupply(ctx, tpl.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.ReserveSupply(ctx, tpl.ID); !apperr.Is(err, apperr.ErrSupplyExhausted) {
		t.Fatalf("exhausted reserve: got %v", err)
	}

	inst, err := store.CreateInstance(ctx, component.Instance{TemplateID: tpl.ID, Owner: "holder"})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}

	av, err := store.CreateAvatar(ctx, avatar.Avatar{Name: "av", Owner: "holder"})
	if err != nil {
		t.Fatalf("create avatar: %v", err)
	}
	if _, err := store.ApplyEquipSet(ctx, storage.EquipSet{
		AvatarID:     av.ID,
		OwnerAccount: "holder",
		Changes:      []storage.EquipChange{{Slot: component.TypeBackground, InstanceID: inst.ID}},
	}); err != nil {
		t.Fatalf("equip: %v", err)
	}
	if _, err := store.TransferInstance(ctx, inst.ID, "other"); !apperr.Is(err, apperr.ErrInstanceEquipped) {
		t.Fatalf("transfer equipped: got %v", err)
	}

	acct, created, err := store.EnsureSubAccount(ctx, subaccount.Account{AvatarID: av.ID, Address: "aa99"})
	if err != nil || !created {
		t.Fatalf("ensure sub-account: created=%v err=%v", created, err)
	}
	if _, again, err := store.EnsureSubAccount(ctx, acct); err != nil || again {
		t.Fatalf("second ensure: created=%v err=%v", again, err)
	}

	if _, err := store.Credit(ctx, "alice", payment.AssetGas, 50); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := store.Debit(ctx, "alice", payment.AssetGas, 60); !apperr.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("overdraw: got %v", err)
	}
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func templateRows(active bool, current, max uint64) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "name", "creator", "type", "max_supply", "current_supply",
		"price", "payload", "active", "created_at", "updated_at",
	}).AddRow(1, "Sunset", "alice", 0, max, current, 10, []byte("<rect/>"), active, now, now)
}

func TestReserveSupplyClassifiesNoMatch(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	// The conditional update matches nothing; the re-read says the template
	// is inactive.
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE templates")).
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WillReturnRows(templateRows(false, 0, 10))

	if _, err := store.ReserveSupply(ctx, 1); !apperr.Is(err, apperr.ErrTemplateInactive) {
		t.Fatalf("inactive template: got %v", err)
	}

	// Active but full reads back as exhausted supply.
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE templates")).
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WillReturnRows(templateRows(true, 10, 10))

	if _, err := store.ReserveSupply(ctx, 1); !apperr.Is(err, apperr.ErrSupplyExhausted) {
		t.Fatalf("full template: got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE balances")).
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := store.Debit(context.Background(), "alice", payment.AssetGas, 100)
	if !apperr.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
