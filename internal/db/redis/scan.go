package redis

import (
	"context"

	"github.com/redis/rueidis"

	"github.com/kitedocs/searchcore/internal/db"
)

const scanPageSize = 100

// ScanPage returns one page of keys matching pattern starting at cursor.
// A returned cursor of 0 means the iteration is complete.
func (s *Store) ScanPage(
	ctx context.Context, pattern string, cursor uint64, count int,
) ([]string, uint64, error) {
	if count <= 0 {
		count = scanPageSize
	}
	cmd := s.b().Scan().Cursor(cursor).Match(pattern).Count(int64(count)).Build()
	res, err := s.do(ctx, cmd).AsScanEntry()
	if err != nil {
		return nil, 0, &db.Error{Op: db.OpScan, Err: err}
	}
	return res.Elements, res.Cursor, nil
}

// CountByPrefix counts keys under a prefix page by page, without collecting them.
func (s *Store) CountByPrefix(ctx context.Context, prefix string) (int, error) {
	var total int
	var cursor uint64

	for {
		keys, next, err := s.ScanPage(ctx, prefix+"*", cursor, scanPageSize)
		if err != nil {
			return 0, err
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

// DeleteByPrefix removes all keys under a prefix, deleting each page as it
// is discovered. Best-effort with respect to concurrent writes.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	var deleted int
	var cursor uint64

	for {
		keys, next, err := s.ScanPage(ctx, prefix+"*", cursor, scanPageSize)
		if err != nil {
			return deleted, err
		}

		if len(keys) > 0 {
			cmds := make([]rueidis.Completed, len(keys))
			for i, key := range keys {
				cmds[i] = s.b().Del().Key(key).Build()
			}
			for _, res := range s.client.DoMulti(ctx, cmds...) {
				if err := res.Error(); err != nil {
					return deleted, &db.Error{Op: db.OpDel, Err: err}
				}
				deleted++
			}
		}

		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}
