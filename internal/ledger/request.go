package ledger

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/valyalkin/piggy-backend/internal/instrument"
	"github.com/valyalkin/piggy-backend/internal/model"
)

// Request is the input of RecordTransaction, also the JSON body of
// POST /v1/stocks/transaction.
type Request struct {
	UserID    string          `json:"user_id" validate:"required,max=128"`
	Ticker    string          `json:"ticker" validate:"required"`
	Currency  string          `json:"currency" validate:"required"`
	Timestamp time.Time       `json:"date" validate:"required"`
	Kind      string          `json:"transaction_type" validate:"required"`
	Quantity  int64           `json:"quantity" validate:"gt=0"`
	Price     decimal.Decimal `json:"price"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names so messages match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// parse validates req and builds the transaction to record. All failures
// wrap model.ErrValidation.
func (s *Service) parse(req Request) (*model.Transaction, error) {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			return nil, fmt.Errorf("%w: %s", model.ErrValidation, strings.Join(msgs, "; "))
		}
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}

	if !req.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be greater than 0, got %s", model.ErrValidation, req.Price)
	}

	kind := model.Kind(strings.ToUpper(strings.TrimSpace(req.Kind)))
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: transaction_type must be BUY or SELL, got %q", model.ErrValidation, req.Kind)
	}

	key, err := instrument.ParseKey(req.UserID, req.Ticker, req.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}

	return &model.Transaction{
		UserID:    key.UserID,
		Ticker:    key.Ticker,
		Currency:  key.Currency,
		Timestamp: req.Timestamp.UTC(),
		Kind:      kind,
		Quantity:  req.Quantity,
		Price:     model.NormalizePrice(req.Price),
	}, nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
