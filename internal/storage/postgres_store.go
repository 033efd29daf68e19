package storage

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/livemap/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveSuggestion(ctx context.Context, s models.CarpoolSuggestion) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO carpool_suggestions(pair_key, group_id, member_a_id, member_b_id, meetup_lat, meetup_lng, meetup_label, distance_km, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (pair_key, group_id) DO NOTHING`,
		s.PairKey, s.GroupID, s.MemberAID, s.MemberBID, s.Meetup.Lat, s.Meetup.Lng, s.MeetupLabel, s.DistanceKm, s.CreatedAt)
	return err
}

func (p *PostgresStore) SaveSOS(ctx context.Context, a models.SOSAlert) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sos_alerts(group_id, member_id, name, lat, lng, message, created_at) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		a.GroupID, a.MemberID, a.Name, a.Loc.Lat, a.Loc.Lng, a.Message, a.CreatedAt)
	return err
}

func (p *PostgresStore) RecentSuggestions(ctx context.Context, groupID string, limit int) ([]models.CarpoolSuggestion, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT pair_key, group_id, member_a_id, member_b_id, meetup_lat, meetup_lng, meetup_label, distance_km, created_at
		 FROM carpool_suggestions WHERE group_id=$1 ORDER BY created_at DESC LIMIT $2`,
		groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.CarpoolSuggestion
	for rows.Next() {
		var s models.CarpoolSuggestion
		if err := rows.Scan(&s.PairKey, &s.GroupID, &s.MemberAID, &s.MemberBID, &s.Meetup.Lat, &s.Meetup.Lng, &s.MeetupLabel, &s.DistanceKm, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
