package personas

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*PersonaRow, error)
	ListActiveKnowledge(ctx context.Context, personaID uuid.UUID) ([]KnowledgeRow, error)
	IncrementConversationCount(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*PersonaRow, error) {
	query := `
		SELECT id, creator_id, name, description, bio, personality_traits, language_style, expertise,
		       status, conversation_count, created_at, updated_at
		FROM personas
		WHERE id = $1`

	row := &PersonaRow{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&row.ID, &row.CreatorID, &row.Name, &row.Description, &row.Bio,
		&row.PersonalityTraits, &row.LanguageStyle, &row.Expertise,
		&row.Status, &row.ConversationCount, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying persona by id: %w", err)
	}
	return row, nil
}

func (r *postgresRepository) ListActiveKnowledge(ctx context.Context, personaID uuid.UUID) ([]KnowledgeRow, error) {
	query := `
		SELECT source_type, source_name, content, status
		FROM knowledge_bases
		WHERE persona_id = $1 AND status = 'active'
		ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, personaID)
	if err != nil {
		return nil, fmt.Errorf("listing knowledge entries: %w", err)
	}
	defer rows.Close()

	var entries []KnowledgeRow
	for rows.Next() {
		var k KnowledgeRow
		if err := rows.Scan(&k.SourceType, &k.SourceName, &k.Content, &k.Status); err != nil {
			return nil, fmt.Errorf("scanning knowledge row: %w", err)
		}
		entries = append(entries, k)
	}
	return entries, rows.Err()
}

func (r *postgresRepository) IncrementConversationCount(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE personas SET conversation_count = conversation_count + 1, updated_at = NOW() WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("incrementing conversation count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrPersonaNotFound
	}
	return nil
}
