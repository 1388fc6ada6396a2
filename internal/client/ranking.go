package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Match selects how PlayersWhere compares text.
type Match int

const (
	MatchContains Match = iota
	MatchPrefix
	MatchSuffix
)

// Ranked is one entry of TopPlayers.
type Ranked struct {
	Player string `json:"player"`
	Value  int64  `json:"value"`
}

// PlayersWhere returns players whose column matches text, case-insensitively.
func (c *Client) PlayersWhere(ctx context.Context, table, column string, m Match, text string) ([]string, error) {
	if err := c.check(table, column); err != nil {
		return nil, err
	}
	text = escapeLike(strings.ToLower(text))
	switch m {
	case MatchPrefix:
		text = text + "%"
	case MatchSuffix:
		text = "%" + text
	default:
		text = "%" + text + "%"
	}
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE LOWER(%s::text) LIKE $1`, ident(c.cfg.IdentityColumn), ident(table), ident(column))
	return c.playerList(ctx, sql, text)
}

// PlayersBetween returns players whose numeric column lies in [lo, hi].
func (c *Client) PlayersBetween(ctx context.Context, table, column string, lo, hi int64) ([]string, error) {
	if err := c.check(table, column); err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE %s BETWEEN $1 AND $2`, ident(c.cfg.IdentityColumn), ident(table), ident(column))
	return c.playerList(ctx, sql, lo, hi)
}

// PlayersOrderedBy returns up to limit players sorted by column.
func (c *Client) PlayersOrderedBy(ctx context.Context, table, column string, ascending bool, limit int) ([]string, error) {
	if err := c.check(table, column); err != nil {
		return nil, err
	}
	order := "DESC"
	if ascending {
		order = "ASC"
	}
	sql := fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s %s LIMIT $1`, ident(c.cfg.IdentityColumn), ident(table), ident(column), order)
	return c.playerList(ctx, sql, limit)
}

// TopPlayers returns up to limit players with the highest numeric column,
// highest first. Rows whose value is not an integer are skipped.
func (c *Client) TopPlayers(ctx context.Context, table, column string, limit int) ([]Ranked, error) {
	if err := c.check(table, column); err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`SELECT %s AS player, %[2]s AS value FROM %[3]s ORDER BY %[2]s DESC NULLS LAST LIMIT $1`,
		ident(c.cfg.IdentityColumn), ident(column), ident(table))

	rows, err := c.rawRows(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Ranked, 0, len(rows))
	for _, row := range rows {
		player, _ := row["player"].(string)
		n, err := ParseInt(fmt.Sprint(row["value"]))
		if player == "" || row["value"] == nil || err != nil {
			continue
		}
		out = append(out, Ranked{Player: player, Value: n})
	}
	return out, nil
}

func (c *Client) playerList(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := c.rawRows(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	players := make([]string, 0, len(rows))
	for _, row := range rows {
		if p, ok := row[c.cfg.IdentityColumn].(string); ok {
			players = append(players, p)
		}
	}
	return players, nil
}

func (c *Client) rawRows(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	res := c.backend.Query(ctx, sql, args...).Wait(ctx)
	if res.Err != nil {
		return nil, res.Err
	}
	if !res.OK {
		return nil, nil
	}

	var rows []map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(res.Value)))
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode query result: %w", err)
	}
	return rows, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
