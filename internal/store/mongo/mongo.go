// Package mongo is the durable document backend. Claim exclusivity is
// implemented with a single findOneAndUpdate so concurrent workers never
// receive the same request.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/faucetgw/faucetgw/internal/model"
	"github.com/faucetgw/faucetgw/internal/store"
)

type Store struct {
	client     *mongo.Client
	db         *mongo.Database
	visibility time.Duration
}

var _ store.Store = (*Store)(nil)

// New wraps a connected client. visibility bounds how long a processing
// request stays invisible to ClaimNextPending; zero disables reclaim.
func New(client *mongo.Client, database string, visibility time.Duration) *Store {
	return &Store{client: client, db: client.Database(database), visibility: visibility}
}

func (s *Store) users() *mongo.Collection    { return s.db.Collection("users") }
func (s *Store) requests() *mongo.Collection { return s.db.Collection("mint_requests") }
func (s *Store) quotas() *mongo.Collection   { return s.db.Collection("quotas") }
func (s *Store) failures() *mongo.Collection { return s.db.Collection("mint_failures") }
func (s *Store) configs() *mongo.Collection  { return s.db.Collection("system_config") }

// EnsureIndexes creates the unique and claim-path indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	_, err := s.users().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "channel", Value: 1}, {Key: "handle", Value: 1}},
		Options: unique,
	})
	if err != nil {
		return wrap("ensure users index", err)
	}

	_, err = s.requests().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "requested_at", Value: 1}},
	})
	if err != nil {
		return wrap("ensure requests index", err)
	}

	_, err = s.quotas().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "day", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return wrap("ensure quotas index", err)
	}
	return nil
}

func wrap(op string, err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type userDoc struct {
	ID         string    `bson:"_id"`
	Channel    string    `bson:"channel"`
	Handle     string    `bson:"handle"`
	Role       string    `bson:"role"`
	Domain     string    `bson:"domain"`
	LastSeenAt time.Time `bson:"last_seen_at"`
}

type requestDoc struct {
	ID          string     `bson:"_id"`
	UserID      string     `bson:"user_id"`
	Channel     string     `bson:"channel"`
	Amount      int64      `bson:"amount"`
	Status      string     `bson:"status"`
	TxRef       string     `bson:"tx_ref"`
	Error       string     `bson:"error"`
	RequestedAt time.Time  `bson:"requested_at"`
	ProcessedAt *time.Time `bson:"processed_at"`
	Attempt     int32      `bson:"attempt"`
}

type quotaDoc struct {
	ID           string `bson:"_id"`
	UserID       string `bson:"user_id"`
	Day          string `bson:"day"`
	MintedTotal  int64  `bson:"minted_total"`
	SuccessCount int64  `bson:"success_count"`
}

func (d userDoc) toModel() (model.User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return model.User{}, fmt.Errorf("invalid user id %q: %w", d.ID, err)
	}
	channel, ok := model.ParseChannel(d.Channel)
	if !ok {
		return model.User{}, fmt.Errorf("invalid channel value: %s", d.Channel)
	}
	role, ok := model.ParseRole(d.Role)
	if !ok {
		return model.User{}, fmt.Errorf("invalid role value: %s", d.Role)
	}
	return model.User{
		ID:         id,
		Channel:    channel,
		Handle:     d.Handle,
		Role:       role,
		Domain:     d.Domain,
		LastSeenAt: d.LastSeenAt.UTC(),
	}, nil
}

func (d requestDoc) toModel() (model.MintRequest, error) {
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return model.MintRequest{}, fmt.Errorf("invalid user id %q: %w", d.UserID, err)
	}
	channel, ok := model.ParseChannel(d.Channel)
	if !ok {
		return model.MintRequest{}, fmt.Errorf("invalid channel value: %s", d.Channel)
	}
	status, ok := model.ParseMintStatus(d.Status)
	if !ok {
		return model.MintRequest{}, fmt.Errorf("invalid status value: %s", d.Status)
	}
	req := model.MintRequest{
		ID:          d.ID,
		UserID:      userID,
		Channel:     channel,
		Amount:      d.Amount,
		Status:      status,
		TxRef:       d.TxRef,
		Error:       d.Error,
		RequestedAt: d.RequestedAt.UTC(),
		Attempt:     int(d.Attempt),
	}
	if d.ProcessedAt != nil {
		at := d.ProcessedAt.UTC()
		req.ProcessedAt = &at
	}
	return req, nil
}

func (s *Store) UpsertUser(ctx context.Context, user model.User) error {
	handle := model.NormalizeHandle(user.Handle)
	_, err := s.users().UpdateOne(ctx,
		bson.M{"channel": user.Channel.String(), "handle": handle},
		bson.M{
			"$set": bson.M{
				"role":         user.Role.String(),
				"domain":       user.Domain,
				"last_seen_at": user.LastSeenAt,
			},
			"$setOnInsert": bson.M{"_id": user.ID.String()},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return wrap("upsert user", err)
	}
	return nil
}

func (s *Store) FindUser(ctx context.Context, channel model.Channel, handle string) (*model.User, error) {
	var doc userDoc
	err := s.users().FindOne(ctx, bson.M{
		"channel": channel.String(),
		"handle":  model.NormalizeHandle(handle),
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("find user", err)
	}
	u, err := doc.toModel()
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) SetRole(ctx context.Context, userID uuid.UUID, role model.Role) error {
	_, err := s.users().UpdateOne(ctx,
		bson.M{"_id": userID.String()},
		bson.M{"$set": bson.M{"role": role.String()}},
	)
	if err != nil {
		return wrap("set role", err)
	}
	return nil
}

func (s *Store) Enqueue(ctx context.Context, req model.MintRequest) error {
	doc := requestDoc{
		ID:          req.ID,
		UserID:      req.UserID.String(),
		Channel:     req.Channel.String(),
		Amount:      req.Amount,
		Status:      model.StatusPending.String(),
		RequestedAt: req.RequestedAt,
	}
	_, err := s.requests().UpdateOne(ctx,
		bson.M{"_id": req.ID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return wrap("enqueue", err)
	}
	return nil
}

func (s *Store) ClaimNextPending(ctx context.Context) (*model.MintRequest, error) {
	now := time.Now().UTC()
	claimable := []bson.M{{"status": model.StatusPending.String()}}
	if s.visibility > 0 {
		claimable = append(claimable, bson.M{
			"status":       model.StatusProcessing.String(),
			"processed_at": bson.M{"$lt": now.Add(-s.visibility)},
		})
	}

	var doc requestDoc
	err := s.requests().FindOneAndUpdate(ctx,
		bson.M{"$or": claimable},
		bson.M{
			"$set": bson.M{
				"status":       model.StatusProcessing.String(),
				"processed_at": now,
			},
			"$inc": bson.M{"attempt": 1},
		},
		options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "requested_at", Value: 1}}).
			SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("claim next pending", err)
	}
	req, err := doc.toModel()
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Store) UpdateStatus(ctx context.Context, requestID string, status model.MintStatus) error {
	// the processing stamp doubles as the claim stamp, so a row marked
	// processing inline is reclaimable after the visibility timeout
	set := bson.M{"status": status.String()}
	if status == model.StatusProcessing || status.Terminal() {
		set["processed_at"] = time.Now().UTC()
	}
	_, err := s.requests().UpdateOne(ctx, bson.M{"_id": requestID}, bson.M{"$set": set})
	if err != nil {
		return wrap("update status", err)
	}
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, outcome model.MintOutcome) error {
	req := outcome.Request
	// the status guard makes a redelivered outcome a no-op: the quota
	// bump below happens at most once per request
	res, err := s.requests().UpdateOne(ctx,
		bson.M{
			"_id": req.ID,
			"status": bson.M{"$nin": bson.A{
				model.StatusCompleted.String(), model.StatusFailed.String(),
			}},
		},
		bson.M{"$set": bson.M{
			"status":       req.Status.String(),
			"tx_ref":       outcome.TxRef,
			"error":        req.Error,
			"processed_at": req.ProcessedAt,
			"attempt":      int32(req.Attempt),
		}},
	)
	if err != nil {
		return wrap("record outcome", err)
	}

	if req.Status == model.StatusCompleted && res.MatchedCount > 0 {
		_, err = s.quotas().UpdateOne(ctx,
			bson.M{"user_id": req.UserID.String(), "day": model.DayOf(req.RequestedAt)},
			bson.M{"$inc": bson.M{"success_count": 1}},
		)
		if err != nil {
			return wrap("record outcome quota", err)
		}
	}
	return nil
}

func (s *Store) RecordMint(ctx context.Context, userID uuid.UUID, day string, amount int64) error {
	_, err := s.quotas().UpdateOne(ctx,
		bson.M{"user_id": userID.String(), "day": day},
		bson.M{
			"$inc":         bson.M{"minted_total": amount},
			"$setOnInsert": bson.M{"_id": uuid.New().String(), "success_count": int64(0)},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return wrap("record mint", err)
	}
	return nil
}

func (s *Store) FetchQuota(ctx context.Context, userID uuid.UUID, day string) (*model.Quota, error) {
	var doc quotaDoc
	err := s.quotas().FindOne(ctx, bson.M{"user_id": userID.String(), "day": day}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("fetch quota", err)
	}

	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid quota id %q: %w", doc.ID, err)
	}
	uid, err := uuid.Parse(doc.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", doc.UserID, err)
	}
	return &model.Quota{
		ID:           id,
		UserID:       uid,
		Day:          doc.Day,
		MintedTotal:  doc.MintedTotal,
		SuccessCount: doc.SuccessCount,
	}, nil
}

func (s *Store) DailySummary(ctx context.Context, day string) ([]store.DailyReportRow, error) {
	start, err := time.Parse("2006-01-02", day)
	if err != nil {
		return nil, fmt.Errorf("daily summary: invalid day %q: %w", day, err)
	}
	end := start.Add(24 * time.Hour)

	cursor, err := s.requests().Aggregate(ctx, mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"requested_at": bson.M{"$gte": start, "$lt": end},
		}}},
		bson.D{{Key: "$group", Value: bson.M{
			"_id":          "$channel",
			"total_amount": bson.M{"$sum": "$amount"},
			"success_count": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$status", model.StatusCompleted.String()}}, 1, 0,
			}}},
			"failure_count": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$status", model.StatusFailed.String()}}, 1, 0,
			}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.M{"_id": 1}}},
	})
	if err != nil {
		return nil, wrap("daily summary", err)
	}
	defer cursor.Close(ctx)

	var rows []store.DailyReportRow
	for cursor.Next(ctx) {
		var agg struct {
			Channel      string `bson:"_id"`
			TotalAmount  int64  `bson:"total_amount"`
			SuccessCount int64  `bson:"success_count"`
			FailureCount int64  `bson:"failure_count"`
		}
		if err := cursor.Decode(&agg); err != nil {
			return nil, wrap("daily summary decode", err)
		}
		rows = append(rows, store.DailyReportRow{
			Channel:      agg.Channel,
			TotalAmount:  agg.TotalAmount,
			SuccessCount: agg.SuccessCount,
			FailureCount: agg.FailureCount,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, wrap("daily summary cursor", err)
	}
	return rows, nil
}

func (s *Store) LogFailure(ctx context.Context, requestID string, when time.Time, reason string) error {
	_, err := s.failures().InsertOne(ctx, bson.M{
		"request_id": requestID,
		"failed_at":  when,
		"reason":     reason,
	})
	if err != nil {
		return wrap("log failure", err)
	}
	return nil
}

func (s *Store) GetConfig(ctx context.Context, key string) (*model.SystemConfig, error) {
	var doc struct {
		Key       string    `bson:"_id"`
		Value     string    `bson:"value"`
		UpdatedAt time.Time `bson:"updated_at"`
	}
	err := s.configs().FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get config", err)
	}
	return &model.SystemConfig{Key: doc.Key, Value: doc.Value, UpdatedAt: doc.UpdatedAt.UTC()}, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.configs().UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": value, "updated_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return wrap("set config", err)
	}
	return nil
}

func (s *Store) ListConfigs(ctx context.Context) ([]model.SystemConfig, error) {
	cursor, err := s.configs().Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrap("list configs", err)
	}
	defer cursor.Close(ctx)

	var out []model.SystemConfig
	for cursor.Next(ctx) {
		var doc struct {
			Key       string    `bson:"_id"`
			Value     string    `bson:"value"`
			UpdatedAt time.Time `bson:"updated_at"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, wrap("list configs decode", err)
		}
		out = append(out, model.SystemConfig{Key: doc.Key, Value: doc.Value, UpdatedAt: doc.UpdatedAt.UTC()})
	}
	if err := cursor.Err(); err != nil {
		return nil, wrap("list configs cursor", err)
	}
	return out, nil
}

func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }
