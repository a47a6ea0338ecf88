package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/skirmish/internal/game/character"
)

// UserRepository is a character.Store backed by PostgreSQL.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a UserRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts u with its abilities and cooldowns.
//
// Precondition: u.ID and u.Name are non-empty; 0 <= u.CurrentHP <= u.MaxHP.
// Postcondition: returns character.ErrUserExists when u.ID is taken.
func (r *UserRepository) Create(ctx context.Context, u *character.User) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO users
				(id, name, level, experience, gold, location_id,
				 max_hp, current_hp, max_mana, mana, max_stamina, stamina,
				 accuracy, evasion, crit_bonus, initiative_bonus, active_session)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			u.ID, u.Name, u.Level, u.Experience, u.Gold, u.LocationID,
			u.MaxHP, u.CurrentHP, u.MaxMana, u.Mana, u.MaxStamina, u.Stamina,
			u.Accuracy, u.Evasion, u.CritBonus, u.InitiativeBonus, u.ActiveSession,
		)
		if err != nil {
			if sqlState(err) == uniqueViolation {
				return character.ErrUserExists
			}
			return fmt.Errorf("inserting user: %w", err)
		}

		batch := &pgx.Batch{}
		for i, id := range u.Abilities {
			batch.Queue(`INSERT INTO user_abilities (user_id, ability_id, position) VALUES ($1,$2,$3)`, u.ID, id, i)
		}
		queueCooldowns(batch, u.ID, u.Cooldowns)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting user abilities: %w", err)
		}
		return nil
	})
}

// Get implements character.Store.
func (r *UserRepository) Get(ctx context.Context, id string) (*character.User, error) {
	var u character.User
	err := r.db.QueryRow(ctx, `
		SELECT id, name, level, experience, gold, location_id,
		       max_hp, current_hp, max_mana, mana, max_stamina, stamina,
		       accuracy, evasion, crit_bonus, initiative_bonus, active_session
		FROM users WHERE id = $1`,
		id,
	).Scan(
		&u.ID, &u.Name, &u.Level, &u.Experience, &u.Gold, &u.LocationID,
		&u.MaxHP, &u.CurrentHP, &u.MaxMana, &u.Mana, &u.MaxStamina, &u.Stamina,
		&u.Accuracy, &u.Evasion, &u.CritBonus, &u.InitiativeBonus, &u.ActiveSession,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, character.ErrUserNotFound
		}
		return nil, fmt.Errorf("querying user %s: %w", id, err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT ability_id FROM user_abilities WHERE user_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("querying abilities of %s: %w", id, err)
	}
	u.Abilities, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning abilities of %s: %w", id, err)
	}

	rows, err = r.db.Query(ctx,
		`SELECT ability_id, remaining FROM user_cooldowns WHERE user_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("querying cooldowns of %s: %w", id, err)
	}
	defer rows.Close()
	u.Cooldowns = make(map[string]int)
	for rows.Next() {
		var ability string
		var remaining int
		if err := rows.Scan(&ability, &remaining); err != nil {
			return nil, fmt.Errorf("scanning cooldown row: %w", err)
		}
		u.Cooldowns[ability] = remaining
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cooldowns of %s: %w", id, err)
	}
	return &u, nil
}

// SaveCombatState implements character.Store. HP is clamped to [0, max_hp]
// and the cooldown set is replaced; zero entries are not stored.
func (r *UserRepository) SaveCombatState(ctx context.Context, id string, hp int, cooldowns map[string]int) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE users SET current_hp = LEAST(GREATEST($2, 0), max_hp), updated_at = NOW()
			WHERE id = $1`, id, hp)
		if err != nil {
			return fmt.Errorf("saving hp of %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return character.ErrUserNotFound
		}
		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM user_cooldowns WHERE user_id = $1`, id)
		queueCooldowns(batch, id, cooldowns)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("saving cooldowns of %s: %w", id, err)
		}
		return nil
	})
}

// SaveVitals implements character.Store.
func (r *UserRepository) SaveVitals(ctx context.Context, id string, v character.Vitals) error {
	return r.update(ctx, id, `
		UPDATE users SET
			current_hp = LEAST(GREATEST($2, 0), max_hp),
			mana       = LEAST(GREATEST($3, 0), max_mana),
			stamina    = LEAST(GREATEST($4, 0), max_stamina),
			updated_at = NOW()
		WHERE id = $1`, v.HP, v.Mana, v.Stamina)
}

// AwardRewards implements character.Store.
func (r *UserRepository) AwardRewards(ctx context.Context, id string, xp, gold int) error {
	return r.update(ctx, id, `
		UPDATE users SET experience = experience + $2, gold = gold + $3, updated_at = NOW()
		WHERE id = $1`, xp, gold)
}

// SetActiveSession implements character.Store.
func (r *UserRepository) SetActiveSession(ctx context.Context, id, sessionID string) error {
	return r.update(ctx, id, `UPDATE users SET active_session = $2, updated_at = NOW() WHERE id = $1`, sessionID)
}

// ClearActiveSession implements character.Store.
func (r *UserRepository) ClearActiveSession(ctx context.Context, id string) error {
	return r.update(ctx, id, `UPDATE users SET active_session = '', updated_at = NOW() WHERE id = $1`)
}

func (r *UserRepository) update(ctx context.Context, id, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("updating user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return character.ErrUserNotFound
	}
	return nil
}

func queueCooldowns(batch *pgx.Batch, userID string, cooldowns map[string]int) {
	for ability, remaining := range cooldowns {
		if remaining <= 0 {
			continue
		}
		batch.Queue(`INSERT INTO user_cooldowns (user_id, ability_id, remaining) VALUES ($1,$2,$3)`,
			userID, ability, remaining)
	}
}
