package user

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"PPSignal/logger"
	"PPSignal/service/chat"
	"PPSignal/service/mgo"
	"PPSignal/tools/errs"
	"PPSignal/tools/ids"
	"PPSignal/tools/safe"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Sink 批量落库
type Sink interface {
	InsertMany(ctx context.Context, logs []SessionLog) error
}

// MongoSink 写 user_session_log；Mongo 未就绪时返回错误，本批丢弃
type MongoSink struct {
	mgr       *mgo.Manager
	indexOnce sync.Once
}

func NewMongoSink(mgr *mgo.Manager) *MongoSink {
	return &MongoSink{mgr: mgr}
}

func (s *MongoSink) InsertMany(ctx context.Context, logs []SessionLog) error {
	db, ok := s.mgr.TryGetDB()
	if !ok {
		return errs.New("mongo not ready")
	}
	coll := (&SessionLog{}).Collection(db)
	s.indexOnce.Do(func() {
		_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "at", Value: -1}},
			Options: options.Index().SetName("user_at"),
		})
		if err != nil {
			logger.Warn("[audit] create index failed", zap.Error(err))
		}
	})
	docs := make([]any, len(logs))
	for i := range logs {
		docs[i] = logs[i]
	}
	_, err := coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return errs.WrapMsg(err, "insert session logs", "n", len(logs))
}

type AuditConf struct {
	Buffer     int
	Batch      int
	FlushEvery time.Duration
	Timeout    time.Duration
}

func (c *AuditConf) norm() {
	if c.Buffer <= 0 {
		c.Buffer = 4096
	}
	if c.Batch <= 0 {
		c.Batch = 128
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

// SessionAuditor 实现 chat.SessionAuditor：Record 只入队，后台批量写入
type SessionAuditor struct {
	sink    Sink
	conf    AuditConf
	ids     *ids.Generator
	ch      chan SessionLog
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func NewSessionAuditor(sink Sink, conf AuditConf, gen *ids.Generator) *SessionAuditor {
	conf.norm()
	if gen == nil {
		gen = ids.NewGenerator(1)
	}
	return &SessionAuditor{
		sink: sink,
		conf: conf,
		ids:  gen,
		ch:   make(chan SessionLog, conf.Buffer),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (a *SessionAuditor) Start() {
	safe.Go("session-audit", a.loop)
}

// Record 队列满时丢弃并计数
func (a *SessionAuditor) Record(_ context.Context, e chat.SessionEvent) {
	log := SessionLog{
		LogID:  a.ids.NextString(),
		UserID: e.UserID,
		ConnID: e.ConnID,
		Event:  e.Event,
		Reason: e.Reason,
		Remote: e.Remote,
		At:     e.At.UTC(),
	}
	select {
	case a.ch <- log:
	default:
		a.dropped.Add(1)
	}
}

func (a *SessionAuditor) Dropped() int64 { return a.dropped.Load() }

// Close 停止并写完队列中剩余的记录
func (a *SessionAuditor) Close() {
	a.once.Do(func() { close(a.stop) })
	<-a.done
}

func (a *SessionAuditor) loop() {
	defer close(a.done)
	ticker := time.NewTicker(a.conf.FlushEvery)
	defer ticker.Stop()

	batch := make([]SessionLog, 0, a.conf.Batch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.conf.Timeout)
		if err := a.sink.InsertMany(ctx, batch); err != nil {
			logger.Warn("[audit] flush failed", zap.Int("n", len(batch)), zap.Error(err))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case log := <-a.ch:
			batch = append(batch, log)
			if len(batch) >= a.conf.Batch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-a.stop:
			for {
				select {
				case log := <-a.ch:
					batch = append(batch, log)
					if len(batch) >= a.conf.Batch {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
