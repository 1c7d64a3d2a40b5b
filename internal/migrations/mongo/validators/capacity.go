package validators

import "go.mongodb.org/mongo-driver/bson"

var integer = []string{"int", "long"}

// CapacityValidator backs the admission bound at the storage layer: no write
// may leave occupied outside [0, capacity].
var CapacityValidator = bson.M{
	"$and": bson.A{
		bson.M{"$jsonSchema": bson.M{
			"bsonType":             "object",
			"required":             []string{"_id", "capacity", "occupied", "version", "status", "updated_at"},
			"additionalProperties": true,
			"properties": bson.M{
				"_id":      bson.M{"bsonType": "string", "minLength": 1, "maxLength": 128},
				"capacity": bson.M{"bsonType": integer, "minimum": 0},
				"occupied": bson.M{"bsonType": integer, "minimum": 0},
				"version":  bson.M{"bsonType": integer, "minimum": 1},
				"status": bson.M{
					"enum": []string{"draft", "published", "cancelled", "completed", "deleted"},
				},
				"updated_at": bson.M{"bsonType": "date"},
			},
		}},
		bson.M{"$expr": bson.M{"$lte": bson.A{"$occupied", "$capacity"}}},
	},
}
