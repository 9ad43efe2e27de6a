package domain

import (
	"errors"
	"math"
	"math/rand"

	"github.com/incrisvel/delivery-q/internal/util"
)

var ErrInvalidOrder = errors.New("invalid order data")

// Order is the snapshot every actor keeps and ships on the wire. The id is
// immutable once created; only Status changes, and only forward.
type Order struct {
	ID        string
	Product   string
	Quantity  int
	UnitPrice float64
	Status    Status
}

// NewOrder validates and builds an order in its initial state.
func NewOrder(id, product string, quantity int, unitPrice float64) (*Order, error) {
	if id == "" || product == "" || quantity <= 0 || unitPrice < 0 {
		return nil, ErrInvalidOrder
	}
	return &Order{
		ID:        id,
		Product:   product,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Status:    StatusCreated,
	}, nil
}

var products = []string{
	"macarrão",
	"requeijão",
	"motosserra",
	"tinta de parede",
	"cadeira",
	"cadeira de rodas gamer",
}

// NewRandomOrder generates a submission payload with a fresh short id, a
// random product and a two-decimal unit price.
func NewRandomOrder() *Order {
	product := products[rand.Intn(len(products))]
	quantity := rand.Intn(1000) + 1
	if quantity > 1 {
		product += "s"
	}
	price := math.Round((1+rand.Float64()*99)*100) / 100

	return &Order{
		ID:        util.NewOrderID(),
		Product:   product,
		Quantity:  quantity,
		UnitPrice: price,
		Status:    StatusCreated,
	}
}
