package database

import "go.mongodb.org/mongo-driver/mongo"

// Table 表名/集合名
type Table interface {
	GetTableName() string
}

// MongoTable 落在 mongo 上的集合
type MongoTable interface {
	Table
	Collection(db *mongo.Database) *mongo.Collection
}
