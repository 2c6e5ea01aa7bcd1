// Package postgres implements the storage interfaces backed by PostgreSQL.
// Compound operations run inside transactions with row locks so their
// semantics match the in-memory store's single-writer behavior.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/avatar"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/component"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/subaccount"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage"
	apperr "github.com/NeoAvatars/avatar_layer/internal/errors"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.TemplateStore = (*Store)(nil)
var _ storage.ComponentStore = (*Store)(nil)
var _ storage.AvatarStore = (*Store)(nil)
var _ storage.SubAccountStore = (*Store)(nil)
var _ storage.BalanceStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const templateColumns = `id, name, creator, type, max_supply, current_supply, price, payload, active, created_at, updated_at`

func scanTemplate(row interface{ Scan(...any) error }) (component.Template, error) {
	var tpl component.Template
	err := row.Scan(&tpl.ID, &tpl.Name, &tpl.Creator, &tpl.Type, &tpl.MaxSupply,
		&tpl.CurrentSupply, &tpl.Price, &tpl.Payload, &tpl.Active, &tpl.CreatedAt, &tpl.UpdatedAt)
	return tpl, err
}

// --- TemplateStore ----------------------------------------------------------

func (s *Store) CreateTemplate(ctx context.Context, tpl component.Template) (component.Template, error) {
	now := time.Now().UTC()
	tpl.CurrentSupply = 0
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO templates (name, creator, type, max_supply, current_supply, price, payload, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $8, $8)
		RETURNING id
	`, tpl.Name, tpl.Creator, tpl.Type, tpl.MaxSupply, tpl.Price, tpl.Payload, tpl.Active, now).Scan(&tpl.ID)
	if err != nil {
		return component.Template{}, err
	}
	return tpl, nil
}

func (s *Store) UpdateTemplate(ctx context.Context, tpl component.Template) (component.Template, error) {
	// Only price and the active flag are mutable after creation.
	row := s.db.QueryRowContext(ctx, `
		UPDATE templates
		SET price = $2, active = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+templateColumns+`
	`, tpl.ID, tpl.Price, tpl.Active, time.Now().UTC())

	updated, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return component.Template{}, fmt.Errorf("template %d: %w", tpl.ID, apperr.ErrTemplateNotFound)
	}
	return updated, err
}

func (s *Store) GetTemplate(ctx context.Context, id uint64) (component.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+` FROM templates WHERE id = $1
	`, id)

	tpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return component.Template{}, fmt.Errorf("template %d: %w", id, apperr.ErrTemplateNotFound)
	}
	return tpl, err
}

func (s *Store) ListTemplateIDsByType(ctx context.Context, t component.Type) ([]uint64, error) {
	var ids []uint64
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM templates WHERE type = $1 ORDER BY id
	`, t)
	return ids, err
}

func (s *Store) ReserveSupply(ctx context.Context, id uint64) (component.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE templates
		SET current_supply = current_supply + 1, updated_at = $2
		WHERE id = $1 AND active AND current_supply < max_supply
		RETURNING `+templateColumns+`
	`, id, time.Now().UTC())

	tpl, err := scanTemplate(row)
	if err == nil {
		return tpl, nil
	}
	if err != sql.ErrNoRows {
		return component.Template{}, err
	}

	// The conditional update matched nothing; classify why.
	existing, getErr := s.GetTemplate(ctx, id)
	if getErr != nil {
		return component.Template{}, getErr
	}
	if !existing.Active {
		return component.Template{}, fmt.Errorf("template %d: %w", id, apperr.ErrTemplateInactive)
	}
	return component.Template{}, fmt.Errorf("template %d: %w", id, apperr.ErrSupplyExhausted)
}

func (s *Store) ReleaseSupply(ctx context.Context, id uint64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE templates
		SET current_supply = current_supply - 1, updated_at = $2
		WHERE id = $1 AND current_supply > 0
	`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("template %d: supply already zero", id)
	}
	return nil
}

// --- ComponentStore ---------------------------------------------------------

const instanceColumns = `id, template_id, owner, equipped, created_at, updated_at`

func scanInstance(row interface{ Scan(...any) error }) (component.Instance, error) {
	var inst component.Instance
	err := row.Scan(&inst.ID, &inst.TemplateID, &inst.Owner, &inst.Equipped, &inst.CreatedAt, &inst.UpdatedAt)
	return inst, err
}

func (s *Store) CreateInstance(ctx context.Context, inst component.Instance) (component.Instance, error) {
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO instances (template_id, owner, equipped, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id
	`, inst.TemplateID, inst.Owner, inst.Equipped, now).Scan(&inst.ID)
	if err != nil {
		return component.Instance{}, err
	}
	return inst, nil
}

func (s *Store) GetInstance(ctx context.Context, id uint64) (component.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+` FROM instances WHERE id = $1
	`, id)

	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return component.Instance{}, fmt.Errorf("instance %d: %w", id, apperr.ErrInstanceNotFound)
	}
	return inst, err
}

func (s *Store) SetEquipped(ctx context.Context, id uint64, equipped bool) (component.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE instances
		SET equipped = $2, updated_at = $3
		WHERE id = $1 AND equipped = NOT $2
		RETURNING `+instanceColumns+`
	`, id, equipped, time.Now().UTC())

	inst, err := scanInstance(row)
	if err == nil {
		return inst, nil
	}
	if err != sql.ErrNoRows {
		return component.Instance{}, err
	}

	if _, getErr := s.GetInstance(ctx, id); getErr != nil {
		return component.Instance{}, getErr
	}
	if equipped {
		return component.Instance{}, fmt.Errorf("instance %d: %w", id, apperr.ErrAlreadyEquipped)
	}
	return component.Instance{}, fmt.Errorf("instance %d: %w", id, apperr.ErrNotEquipped)
}

func (s *Store) TransferInstance(ctx context.Context, id uint64, newOwner string) (component.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE instances
		SET owner = $2, updated_at = $3
		WHERE id = $1 AND NOT equipped
		RETURNING `+instanceColumns+`
	`, id, newOwner, time.Now().UTC())

	inst, err := scanInstance(row)
	if err == nil {
		return inst, nil
	}
	if err != sql.ErrNoRows {
		return component.Instance{}, err
	}

	if _, getErr := s.GetInstance(ctx, id); getErr != nil {
		return component.Instance{}, getErr
	}
	return component.Instance{}, fmt.Errorf("instance %d: %w", id, apperr.ErrInstanceEquipped)
}

func (s *Store) ListInstancesByOwner(ctx context.Context, owner string) ([]component.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+instanceColumns+` FROM instances WHERE lower(owner) = lower($1) ORDER BY id
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []component.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

func (s *Store) DeleteInstance(ctx context.Context, id uint64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("instance %d: %w", id, apperr.ErrInstanceNotFound)
	}
	return nil
}

// --- AvatarStore ------------------------------------------------------------

func slotsFromArray(raw pq.Int64Array) avatar.Slots {
	var slots avatar.Slots
	for i := 0; i < len(raw) && i < len(slots); i++ {
		slots[i] = uint64(raw[i])
	}
	return slots
}

func slotsToArray(slots avatar.Slots) pq.Int64Array {
	out := make(pq.Int64Array, len(slots))
	for i, id := range slots {
		out[i] = int64(id)
	}
	return out
}

func (s *Store) CreateAvatar(ctx context.Context, av avatar.Avatar) (avatar.Avatar, error) {
	now := time.Now().UTC()
	av.Slots = avatar.Slots{}
	av.CreatedAt = now
	av.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO avatars (name, owner, slots, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id
	`, av.Name, av.Owner, slotsToArray(av.Slots), now).Scan(&av.ID)
	if err != nil {
		return avatar.Avatar{}, err
	}
	return av, nil
}

func (s *Store) GetAvatar(ctx context.Context, id uint64) (avatar.Avatar, error) {
	var (
		av  avatar.Avatar
		raw pq.Int64Array
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner, slots, created_at, updated_at FROM avatars WHERE id = $1
	`, id).Scan(&av.ID, &av.Name, &av.Owner, &raw, &av.CreatedAt, &av.UpdatedAt)
	if err == sql.ErrNoRows {
		return avatar.Avatar{}, fmt.Errorf("avatar %d: %w", id, apperr.ErrAvatarNotFound)
	}
	if err != nil {
		return avatar.Avatar{}, err
	}
	av.Slots = slotsFromArray(raw)
	return av, nil
}

func (s *Store) UpdateAvatarName(ctx context.Context, id uint64, name string) (avatar.Avatar, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE avatars SET name = $2, updated_at = $3 WHERE id = $1
	`, id, name, time.Now().UTC())
	if err != nil {
		return avatar.Avatar{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return avatar.Avatar{}, fmt.Errorf("avatar %d: %w", id, apperr.ErrAvatarNotFound)
	}
	return s.GetAvatar(ctx, id)
}

func (s *Store) ListAvatars(ctx context.Context) ([]avatar.Avatar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, owner, slots, created_at, updated_at FROM avatars ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []avatar.Avatar
	for rows.Next() {
		var (
			av  avatar.Avatar
			raw pq.Int64Array
		)
		if err := rows.Scan(&av.ID, &av.Name, &av.Owner, &raw, &av.CreatedAt, &av.UpdatedAt); err != nil {
			return nil, err
		}
		av.Slots = slotsFromArray(raw)
		result = append(result, av)
	}
	return result, rows.Err()
}

func (s *Store) DeleteAvatar(ctx context.Context, id uint64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM avatars WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("avatar %d: %w", id, apperr.ErrAvatarNotFound)
	}
	return nil
}

func (s *Store) ApplyEquipSet(ctx context.Context, set storage.EquipSet) (avatar.Avatar, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return avatar.Avatar{}, err
	}
	defer tx.Rollback()

	var (
		av  avatar.Avatar
		raw pq.Int64Array
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, owner, slots, created_at, updated_at
		FROM avatars WHERE id = $1 FOR UPDATE
	`, set.AvatarID).Scan(&av.ID, &av.Name, &av.Owner, &raw, &av.CreatedAt, &av.UpdatedAt)
	if err == sql.ErrNoRows {
		return avatar.Avatar{}, fmt.Errorf("avatar %d: %w", set.AvatarID, apperr.ErrAvatarNotFound)
	}
	if err != nil {
		return avatar.Avatar{}, err
	}
	av.Slots = slotsFromArray(raw)

	slots := av.Slots
	equip := make([]uint64, 0, len(set.Changes))
	unequip := make([]uint64, 0, len(set.Changes))
	staged := make(map[uint64]struct{}, len(set.Changes))

	for _, change := range set.Changes {
		if !change.Slot.Valid() {
			return avatar.Avatar{}, fmt.Errorf("slot %d: %w", change.Slot, apperr.ErrTypeMismatch)
		}

		if change.Clear {
			current := slots[change.Slot]
			if current == 0 {
				return avatar.Avatar{}, fmt.Errorf("slot %s: %w", change.Slot, apperr.ErrSlotEmpty)
			}
			unequip = append(unequip, current)
			slots[change.Slot] = 0
			continue
		}

		var (
			inst    component.Instance
			tplType component.Type
		)
		err = tx.QueryRowContext(ctx, `
			SELECT i.id, i.template_id, i.owner, i.equipped, i.created_at, i.updated_at, t.type
			FROM instances i JOIN templates t ON t.id = i.template_id
			WHERE i.id = $1 FOR UPDATE OF i
		`, change.InstanceID).Scan(&inst.ID, &inst.TemplateID, &inst.Owner, &inst.Equipped,
			&inst.CreatedAt, &inst.UpdatedAt, &tplType)
		if err == sql.ErrNoRows {
			return avatar.Avatar{}, fmt.Errorf("instance %d: %w", change.InstanceID, apperr.ErrInstanceNotFound)
		}
		if err != nil {
			return avatar.Avatar{}, err
		}

		if tplType != change.Slot {
			return avatar.Avatar{}, fmt.Errorf("instance %d is %s, slot wants %s: %w",
				inst.ID, tplType, change.Slot, apperr.ErrTypeMismatch)
		}
		if !strings.EqualFold(inst.Owner, set.OwnerAccount) {
			return avatar.Avatar{}, fmt.Errorf("instance %d not held by %s: %w",
				inst.ID, set.OwnerAccount, apperr.ErrNotAuthorized)
		}
		if _, dup := staged[inst.ID]; dup || inst.Equipped {
			return avatar.Avatar{}, fmt.Errorf("instance %d: %w", inst.ID, apperr.ErrAlreadyEquipped)
		}

		if current := slots[change.Slot]; current != 0 {
			unequip = append(unequip, current)
		}
		staged[inst.ID] = struct{}{}
		equip = append(equip, inst.ID)
		slots[change.Slot] = inst.ID
	}

	now := time.Now().UTC()
	for _, id := range unequip {
		if _, err := tx.ExecContext(ctx, `
			UPDATE instances SET equipped = FALSE, updated_at = $2 WHERE id = $1
		`, id, now); err != nil {
			return avatar.Avatar{}, err
		}
	}
	for _, id := range equip {
		if _, err := tx.ExecContext(ctx, `
			UPDATE instances SET equipped = TRUE, updated_at = $2 WHERE id = $1
		`, id, now); err != nil {
			return avatar.Avatar{}, err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE avatars SET slots = $2, updated_at = $3 WHERE id = $1
	`, av.ID, slotsToArray(slots), now); err != nil {
		return avatar.Avatar{}, err
	}

	if err := tx.Commit(); err != nil {
		return avatar.Avatar{}, err
	}

	av.Slots = slots
	av.UpdatedAt = now
	return av, nil
}

// --- SubAccountStore --------------------------------------------------------

const subAccountColumns = `avatar_id, address, nonce, unknown_calls, created_at, updated_at`

func scanSubAccount(row interface{ Scan(...any) error }) (subaccount.Account, error) {
	var acct subaccount.Account
	err := row.Scan(&acct.AvatarID, &acct.Address, &acct.Nonce, &acct.UnknownCalls, &acct.CreatedAt, &acct.UpdatedAt)
	return acct, err
}

func (s *Store) EnsureSubAccount(ctx context.Context, acct subaccount.Account) (subaccount.Account, bool, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO sub_accounts (avatar_id, address, nonce, unknown_calls, created_at, updated_at)
		VALUES ($1, $2, 0, 0, $3, $3)
		ON CONFLICT (avatar_id) DO NOTHING
	`, acct.AvatarID, acct.Address, now)
	if err != nil {
		return subaccount.Account{}, false, err
	}
	inserted, _ := result.RowsAffected()

	out, err := s.GetSubAccount(ctx, acct.AvatarID)
	if err != nil {
		return subaccount.Account{}, false, err
	}
	return out, inserted == 1, nil
}

func (s *Store) GetSubAccount(ctx context.Context, avatarID uint64) (subaccount.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subAccountColumns+` FROM sub_accounts WHERE avatar_id = $1
	`, avatarID)

	acct, err := scanSubAccount(row)
	if err == sql.ErrNoRows {
		return subaccount.Account{}, fmt.Errorf("avatar %d: %w", avatarID, apperr.ErrAccountNotFound)
	}
	return acct, err
}

func (s *Store) IncrementNonce(ctx context.Context, avatarID uint64) (subaccount.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE sub_accounts SET nonce = nonce + 1, updated_at = $2
		WHERE avatar_id = $1
		RETURNING `+subAccountColumns+`
	`, avatarID, time.Now().UTC())

	acct, err := scanSubAccount(row)
	if err == sql.ErrNoRows {
		return subaccount.Account{}, fmt.Errorf("avatar %d: %w", avatarID, apperr.ErrAccountNotFound)
	}
	return acct, err
}

func (s *Store) IncrementUnknownCalls(ctx context.Context, avatarID uint64) (subaccount.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE sub_accounts SET unknown_calls = unknown_calls + 1, updated_at = $2
		WHERE avatar_id = $1
		RETURNING `+subAccountColumns+`
	`, avatarID, time.Now().UTC())

	acct, err := scanSubAccount(row)
	if err == sql.ErrNoRows {
		return subaccount.Account{}, fmt.Errorf("avatar %d: %w", avatarID, apperr.ErrAccountNotFound)
	}
	return acct, err
}

func (s *Store) AddApproval(ctx context.Context, avatarID uint64, addr string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sub_account_approvals (avatar_id, address)
		VALUES ($1, lower($2))
		ON CONFLICT DO NOTHING
	`, avatarID, addr)
	return err
}

func (s *Store) RemoveApproval(ctx context.Context, avatarID uint64, addr string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sub_account_approvals WHERE avatar_id = $1 AND address = lower($2)
	`, avatarID, addr)
	return err
}

func (s *Store) ListApprovals(ctx context.Context, avatarID uint64) ([]string, error) {
	var addrs []string
	err := s.db.SelectContext(ctx, &addrs, `
		SELECT address FROM sub_account_approvals WHERE avatar_id = $1 ORDER BY address
	`, avatarID)
	return addrs, err
}

func (s *Store) AppendRecord(ctx context.Context, rec subaccount.Record) (subaccount.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sub_account_records (id, avatar_id, kind, caller, target, asset, value, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.AvatarID, rec.Kind, rec.Caller, rec.Target, rec.Asset, rec.Value, rec.Data, rec.CreatedAt)
	if err != nil {
		return subaccount.Record{}, err
	}
	return rec, nil
}

func (s *Store) ListRecords(ctx context.Context, avatarID uint64) ([]subaccount.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, avatar_id, kind, caller, target, asset, value, data, created_at
		FROM sub_account_records WHERE avatar_id = $1 ORDER BY created_at, id
	`, avatarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []subaccount.Record
	for rows.Next() {
		var rec subaccount.Record
		if err := rows.Scan(&rec.ID, &rec.AvatarID, &rec.Kind, &rec.Caller, &rec.Target,
			&rec.Asset, &rec.Value, &rec.Data, &rec.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// --- BalanceStore -----------------------------------------------------------

func (s *Store) Credit(ctx context.Context, payee, asset string, amount payment.Amount) (payment.Balance, error) {
	var bal payment.Balance
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO balances (payee, asset, available, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (payee, asset)
		DO UPDATE SET available = balances.available + EXCLUDED.available, updated_at = EXCLUDED.updated_at
		RETURNING payee, asset, available, updated_at
	`, payee, asset, amount, time.Now().UTC()).Scan(&bal.Payee, &bal.Asset, &bal.Available, &bal.UpdatedAt)
	return bal, err
}

func (s *Store) Debit(ctx context.Context, payee, asset string, amount payment.Amount) (payment.Balance, error) {
	var bal payment.Balance
	err := s.db.QueryRowContext(ctx, `
		UPDATE balances
		SET available = available - $3, updated_at = $4
		WHERE payee = $1 AND asset = $2 AND available >= $3
		RETURNING payee, asset, available, updated_at
	`, payee, asset, amount, time.Now().UTC()).Scan(&bal.Payee, &bal.Asset, &bal.Available, &bal.UpdatedAt)
	if err == sql.ErrNoRows {
		return payment.Balance{}, fmt.Errorf("payee %s asset %s: %w", payee, asset, apperr.ErrInsufficientBalance)
	}
	return bal, err
}

func (s *Store) GetBalance(ctx context.Context, payee, asset string) (payment.Balance, error) {
	var bal payment.Balance
	err := s.db.QueryRowContext(ctx, `
		SELECT payee, asset, available, updated_at FROM balances WHERE payee = $1 AND asset = $2
	`, payee, asset).Scan(&bal.Payee, &bal.Asset, &bal.Available, &bal.UpdatedAt)
	if err == sql.ErrNoRows {
		return payment.Balance{Payee: payee, Asset: asset}, nil
	}
	return bal, err
}

func (s *Store) ListBalances(ctx context.Context) ([]payment.Balance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payee, asset, available, updated_at FROM balances ORDER BY payee, asset
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []payment.Balance
	for rows.Next() {
		var bal payment.Balance
		if err := rows.Scan(&bal.Payee, &bal.Asset, &bal.Available, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, bal)
	}
	return result, rows.Err()
}

func (s *Store) TransferBalances(ctx context.Context, from, to string, transfers []payment.Transfer) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, tr := range transfers {
		if tr.Amount <= 0 {
			return fmt.Errorf("transfer amount must be positive")
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE balances SET available = available - $3, updated_at = $4
			WHERE payee = $1 AND asset = $2 AND available >= $3
		`, from, tr.Asset, tr.Amount, now)
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return fmt.Errorf("payee %s asset %s: %w", from, tr.Asset, apperr.ErrInsufficientBalance)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO balances (payee, asset, available, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (payee, asset)
			DO UPDATE SET available = balances.available + EXCLUDED.available, updated_at = EXCLUDED.updated_at
		`, to, tr.Asset, tr.Amount, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}
