package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumicrm/mailsync/internal/models"
)

// SaveAttachments inserts metadata rows for a message's attachments. The rows
// are per-message even when the bytes dedupe to a shared storage object.
func SaveAttachments(ctx context.Context, q Querier, messageID string, attachments []models.Attachment) error {
	for i := range attachments {
		att := &attachments[i]
		err := q.QueryRow(ctx, `
			INSERT INTO attachments (
				message_id,
				filename,
				mime_type,
				size_bytes,
				hash,
				storage_key,
				is_inline,
				content_id,
				parse_error
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`,
			messageID,
			att.Filename,
			att.MimeType,
			att.SizeBytes,
			att.Hash,
			att.StorageKey,
			att.IsInline,
			att.ContentID,
			att.ParseError,
		).Scan(&att.ID)
		if err != nil {
			return fmt.Errorf("failed to save attachment %s: %w", att.Filename, err)
		}
		att.MessageID = messageID
	}
	return nil
}

// GetAttachmentsForMessage returns attachment metadata for one message.
func GetAttachmentsForMessage(ctx context.Context, pool *pgxpool.Pool, messageID string) ([]models.Attachment, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, message_id, filename, mime_type, size_bytes, hash, storage_key, is_inline, content_id, parse_error
		FROM attachments
		WHERE message_id = $1
		ORDER BY id
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		var att models.Attachment
		if err := rows.Scan(
			&att.ID,
			&att.MessageID,
			&att.Filename,
			&att.MimeType,
			&att.SizeBytes,
			&att.Hash,
			&att.StorageKey,
			&att.IsInline,
			&att.ContentID,
			&att.ParseError,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, att)
	}

	return attachments, rows.Err()
}

// DeleteAttachmentsForMessage removes metadata rows before re-saving a
// re-fetched message's attachments, keeping the set consistent on upsert.
func DeleteAttachmentsForMessage(ctx context.Context, q Querier, messageID string) error {
	_, err := q.Exec(ctx, `DELETE FROM attachments WHERE message_id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}
	return nil
}
