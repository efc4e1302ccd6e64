package treatment

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/txengine/internal/domain/protocol"
	"github.com/ehr/txengine/internal/platform/db"
)

type pgRepository struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &pgRepository{pool: pool} }

func (r *pgRepository) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const recordCols = `patient, order_label, target, activated_at`

func scanRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Patient, &rec.Order, &rec.Target, &rec.ActivatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *pgRepository) Load(ctx context.Context, patient protocol.Patient) ([]Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordCols+` FROM patient_treatment
		WHERE patient = $1 ORDER BY activated_at, order_label`, patient.String())
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (r *pgRepository) Save(ctx context.Context, patient protocol.Patient, added []Record, removed []protocol.Order) error {
	q := r.conn(ctx)
	if len(removed) > 0 {
		labels := make([]string, len(removed))
		for i, o := range removed {
			labels[i] = o.String()
		}
		if _, err := q.Exec(ctx, `
			DELETE FROM patient_treatment WHERE patient = $1 AND order_label = ANY($2)`,
			patient.String(), labels); err != nil {
			return err
		}
	}
	for _, rec := range added {
		if _, err := q.Exec(ctx, `
			INSERT INTO patient_treatment (patient, order_label, target, activated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (patient, order_label) DO NOTHING`,
			patient.String(), rec.Order, rec.Target, rec.ActivatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *pgRepository) Delete(ctx context.Context, patient protocol.Patient, order protocol.Order) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM patient_treatment WHERE patient = $1 AND order_label = $2`,
		patient.String(), order.String())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgRepository) List(ctx context.Context, limit, offset int) ([]Record, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient_treatment`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordCols+` FROM patient_treatment
		ORDER BY patient, activated_at, order_label LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := scanRecords(rows)
	return items, total, err
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}
