package user

import (
	"time"

	"PPSignal/data/database"

	"go.mongodb.org/mongo-driver/mongo"
)

var _ database.MongoTable = (*SessionLog)(nil)

// SessionLog 一次连接生命周期事件：register/replace/disconnect/evict
type SessionLog struct {
	LogID  string    `bson:"session_log_id" json:"session_log_id"` // 雪花
	UserID int64     `bson:"user_id" json:"user_id"`
	ConnID string    `bson:"conn_id" json:"conn_id"`
	Event  string    `bson:"event" json:"event"`
	Reason string    `bson:"reason,omitempty" json:"reason,omitempty"`
	Remote string    `bson:"remote,omitempty" json:"remote,omitempty"`
	At     time.Time `bson:"at" json:"at"`
}

func (log *SessionLog) GetTableName() string {
	return "user_session_log"
}

func (log *SessionLog) Collection(db *mongo.Database) *mongo.Collection {
	return db.Collection(log.GetTableName())
}
