package validators

import "go.mongodb.org/mongo-driver/bson"

var ReservationValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType":             "object",
		"required":             []string{"reservation_id", "event_id", "requester_id", "state", "version", "created_at"},
		"additionalProperties": true,
		"properties": bson.M{
			"_id":            bson.M{"bsonType": "objectId"},
			"reservation_id": bson.M{"bsonType": "string"},
			"event_id":       bson.M{"bsonType": "string", "minLength": 1, "maxLength": 128},
			"requester_id":   bson.M{"bsonType": "string", "minLength": 1, "maxLength": 128},
			"state": bson.M{
				"enum": []string{"pending", "confirmed", "rejected", "cancelled"},
			},
			"version":    bson.M{"bsonType": integer, "minimum": 1},
			"created_at": bson.M{"bsonType": "date"},
			"updated_at": bson.M{"bsonType": "date"},
		},
	},
}
