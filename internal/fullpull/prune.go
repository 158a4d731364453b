package fullpull

import (
	"context"
	"database/sql"
)

// pruneOrphanMediaAssets deletes cached media assets no remaining
// article references (spec.md §4.6: "prune media assets whose
// (articleId,url) ref set is empty (bounded 500 per sweep)").
func (p *Puller) pruneOrphanMediaAssets(ctx context.Context) error {
	rows, err := p.store.DB().QueryContext(ctx, `
		SELECT url FROM media_assets
		WHERE NOT EXISTS (SELECT 1 FROM media_refs WHERE media_refs.url = media_assets.url)
		LIMIT ?`, maxPrunePerSweep)
	if err != nil {
		return err
	}
	var orphans []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			rows.Close()
			return err
		}
		orphans = append(orphans, url)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	if len(orphans) == 0 {
		return nil
	}

	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM media_assets WHERE url = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, url := range orphans {
			if _, err := stmt.ExecContext(ctx, url); err != nil {
				return err
			}
		}
		return nil
	})
}
