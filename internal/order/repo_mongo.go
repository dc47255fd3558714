package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoNumberIndex = "orderNumber_unique"
	mongoIdemIndex   = "user_idempotency_unique"
)

// MongoRepo stores each order, items included, as a single document, so a
// write is all-or-nothing without a transaction.
type MongoRepo struct {
	coll *mongo.Collection
}

func NewMongoRepo(db *mongo.Database) *MongoRepo {
	return &MongoRepo{coll: db.Collection("orders")}
}

func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "orderNumber", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(mongoNumberIndex),
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "idempotencyKey", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(mongoIdemIndex).
				SetPartialFilterExpression(bson.M{"idempotencyKey": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
		},
	})
	return err
}

type coordinatesDoc struct {
	Latitude  float64 `bson:"latitude"`
	Longitude float64 `bson:"longitude"`
}

type addressDoc struct {
	Street      string          `bson:"street,omitempty"`
	City        string          `bson:"city"`
	State       string          `bson:"state,omitempty"`
	Pincode     string          `bson:"pincode"`
	Coordinates *coordinatesDoc `bson:"coordinates,omitempty"`
}

type itemDoc struct {
	ProductID    string               `bson:"product"`
	ProductName  string               `bson:"productName"`
	ProductPrice primitive.Decimal128 `bson:"productPrice"`
	Quantity     int                  `bson:"quantity"`
	Subtotal     primitive.Decimal128 `bson:"subtotal"`
}

type orderDoc struct {
	ID                    string               `bson:"_id"`
	OrderNumber           string               `bson:"orderNumber"`
	UserID                string               `bson:"userId"`
	MerchantID            string               `bson:"merchantId"`
	Items                 []itemDoc            `bson:"items"`
	DeliveryAddress       addressDoc           `bson:"deliveryAddress"`
	Subtotal              primitive.Decimal128 `bson:"subtotal"`
	DeliveryFee           primitive.Decimal128 `bson:"deliveryFee"`
	Total                 primitive.Decimal128 `bson:"total"`
	Status                string               `bson:"status"`
	PaymentMethod         string               `bson:"paymentMethod"`
	PaymentStatus         string               `bson:"paymentStatus"`
	EstimatedDeliveryTime string               `bson:"estimatedDeliveryTime,omitempty"`
	IdempotencyKey        string               `bson:"idempotencyKey,omitempty"`
	CreatedAt             time.Time            `bson:"createdAt"`
	UpdatedAt             time.Time            `bson:"updatedAt"`
}

func toDec128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

func fromDec128(p primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(p.String())
}

func toDoc(o *Order) (*orderDoc, error) {
	doc := &orderDoc{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		MerchantID:  o.MerchantID,
		DeliveryAddress: addressDoc{
			Street:  o.DeliveryAddress.Street,
			City:    o.DeliveryAddress.City,
			State:   o.DeliveryAddress.State,
			Pincode: o.DeliveryAddress.Pincode,
		},
		Status:                string(o.Status),
		PaymentMethod:         string(o.PaymentMethod),
		PaymentStatus:         string(o.PaymentStatus),
		EstimatedDeliveryTime: o.EstimatedDeliveryTime,
		IdempotencyKey:        o.IdempotencyKey,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
	}
	if c := o.DeliveryAddress.Coordinates; c != nil {
		doc.DeliveryAddress.Coordinates = &coordinatesDoc{Latitude: c.Latitude, Longitude: c.Longitude}
	}
	var err error
	if doc.Subtotal, err = toDec128(o.Subtotal); err != nil {
		return nil, err
	}
	if doc.DeliveryFee, err = toDec128(o.DeliveryFee); err != nil {
		return nil, err
	}
	if doc.Total, err = toDec128(o.Total); err != nil {
		return nil, err
	}
	for _, it := range o.Items {
		d := itemDoc{ProductID: it.ProductID, ProductName: it.ProductName, Quantity: it.Quantity}
		if d.ProductPrice, err = toDec128(it.ProductPrice); err != nil {
			return nil, err
		}
		if d.Subtotal, err = toDec128(it.Subtotal); err != nil {
			return nil, err
		}
		doc.Items = append(doc.Items, d)
	}
	return doc, nil
}

func (d *orderDoc) toOrder() (*Order, error) {
	o := &Order{
		ID:          d.ID,
		OrderNumber: d.OrderNumber,
		UserID:      d.UserID,
		MerchantID:  d.MerchantID,
		DeliveryAddress: Address{
			Street:  d.DeliveryAddress.Street,
			City:    d.DeliveryAddress.City,
			State:   d.DeliveryAddress.State,
			Pincode: d.DeliveryAddress.Pincode,
		},
		Status:                Status(d.Status),
		PaymentMethod:         PaymentMethod(d.PaymentMethod),
		PaymentStatus:         PaymentStatus(d.PaymentStatus),
		EstimatedDeliveryTime: d.EstimatedDeliveryTime,
		IdempotencyKey:        d.IdempotencyKey,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
	if c := d.DeliveryAddress.Coordinates; c != nil {
		o.DeliveryAddress.Coordinates = &Coordinates{Latitude: c.Latitude, Longitude: c.Longitude}
	}
	var err error
	if o.Subtotal, err = fromDec128(d.Subtotal); err != nil {
		return nil, err
	}
	if o.DeliveryFee, err = fromDec128(d.DeliveryFee); err != nil {
		return nil, err
	}
	if o.Total, err = fromDec128(d.Total); err != nil {
		return nil, err
	}
	for _, it := range d.Items {
		li := LineItem{ProductID: it.ProductID, ProductName: it.ProductName, Quantity: it.Quantity}
		if li.ProductPrice, err = fromDec128(it.ProductPrice); err != nil {
			return nil, err
		}
		if li.Subtotal, err = fromDec128(it.Subtotal); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, li)
	}
	return o, nil
}

func (r *MongoRepo) Create(ctx context.Context, o *Order) error {
	doc, err := toDoc(o)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), mongoIdemIndex) {
				return ErrDuplicateIdempotencyKey
			}
			if strings.Contains(err.Error(), mongoNumberIndex) {
				return ErrDuplicateOrderNumber
			}
		}
		return err
	}
	return nil
}

func (r *MongoRepo) findOne(ctx context.Context, filter bson.M) (*Order, error) {
	var doc orderDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.toOrder()
}

func (r *MongoRepo) GetByID(ctx context.Context, id string) (*Order, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoRepo) GetByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error) {
	return r.findOne(ctx, bson.M{"userId": userID, "idempotencyKey": key})
}

func (r *MongoRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	limit, offset = clampPage(limit, offset)
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	cur, err := r.coll.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []orderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(docs))
	for i := range docs {
		o, err := docs[i].toOrder()
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

func (r *MongoRepo) UpdateStatus(ctx context.Context, id string, from, to Status) (*Order, error) {
	var doc orderDoc
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to), "updatedAt": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}
	return doc.toOrder()
}
