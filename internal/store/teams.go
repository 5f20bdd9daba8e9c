package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrTeamNotFound = errors.New("team not found")

type Team struct {
	ID             string
	Name           string
	SlackChannelID string
	CreatedAt      time.Time
}

func (s *Store) CreateTeam(ctx context.Context, name, slackChannelID string) (Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Team{}, fmt.Errorf("team name is required")
	}
	id := "team-" + uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO teams (id, name, slack_channel_id, created_at_unix) VALUES (?, ?, ?, ?)`,
		id, name, nullIfEmpty(strings.TrimSpace(slackChannelID)), now.Unix(),
	)
	if err != nil {
		return Team{}, fmt.Errorf("insert team: %w", err)
	}
	return Team{ID: id, Name: name, SlackChannelID: strings.TrimSpace(slackChannelID), CreatedAt: now}, nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (Team, error) {
	var (
		team      Team
		channel   sql.NullString
		createdAt int64
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, slack_channel_id, created_at_unix FROM teams WHERE id = ?`,
		id,
	).Scan(&team.ID, &team.Name, &channel, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Team{}, ErrTeamNotFound
	}
	if err != nil {
		return Team{}, fmt.Errorf("get team: %w", err)
	}
	team.SlackChannelID = channel.String
	team.CreatedAt = time.Unix(createdAt, 0).UTC()
	return team, nil
}

func (s *Store) ListTeams(ctx context.Context) ([]Team, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, slack_channel_id, created_at_unix FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	teams := []Team{}
	for rows.Next() {
		var (
			team      Team
			channel   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&team.ID, &team.Name, &channel, &createdAt); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		team.SlackChannelID = channel.String
		team.CreatedAt = time.Unix(createdAt, 0).UTC()
		teams = append(teams, team)
	}
	return teams, rows.Err()
}
