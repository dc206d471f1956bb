// Package redis provides a working set repository backed by Redis. Entries expire after a TTL.
package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

const keyPrefix = "cfpdesk:workingset:"

// WorkingSetRepo stores one JSON document per reviewer
type WorkingSetRepo struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Entry
}

// New creates a new Redis working set repository and checks the connection
func New(ctx context.Context, client *redis.Client, ttl time.Duration, logger *logrus.Entry) (*WorkingSetRepo, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "New: Redis is not reachable")
	}
	return &WorkingSetRepo{
		client: client,
		ttl:    ttl,
		logger: logger,
	}, nil
}

func key(userID uint) string {
	return fmt.Sprintf("%s%d", keyPrefix, userID)
}

// Get returns the working set of the reviewer or ErrEntityNotExisting
func (r *WorkingSetRepo) Get(ctx context.Context, userID uint) (*models.WorkingSet, error) {
	data, err := r.client.Get(ctx, key(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, repos.ErrEntityNotExisting
		}
		return nil, err
	}
	var ws models.WorkingSet
	if err := json.Unmarshal(data, &ws); err != nil {
		// A broken entry is as good as a lost one
		r.logger.WithError(err).WithField(log.FldUser, userID).Warn("Dropping unreadable working set")
		return nil, repos.ErrEntityNotExisting
	}
	return &ws, nil
}

// Save stores the working set of a reviewer
func (r *WorkingSetRepo) Save(ctx context.Context, ws *models.WorkingSet) error {
	data, err := json.Marshal(ws)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key(ws.UserID), data, r.ttl).Err()
}

// Delete forgets the working set of a reviewer
func (r *WorkingSetRepo) Delete(ctx context.Context, userID uint) error {
	return r.client.Del(ctx, key(userID)).Err()
}
