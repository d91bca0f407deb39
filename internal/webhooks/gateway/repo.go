package gatewaywebhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
)

// Repository is the persistence surface for the webhook channel.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindActiveSourceByKey(ctx context.Context, apiKey string) (*models.WebhookSource, error)
	TouchSourceSeen(ctx context.Context, id uuid.UUID, at time.Time) error
	CreatePayment(ctx context.Context, payment *models.SmsPayment) (*models.SmsPayment, error)
	FindPaymentByRequestID(ctx context.Context, requestID string) (*models.SmsPayment, error)
	FindOrder(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error)
	ListActiveBankAccounts(ctx context.Context) ([]models.BankAccount, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a gorm-backed webhook repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindActiveSourceByKey(ctx context.Context, apiKey string) (*models.WebhookSource, error) {
	var source models.WebhookSource
	if err := r.db.WithContext(ctx).
		First(&source, "api_key = ? AND active = ?", apiKey, true).Error; err != nil {
		return nil, err
	}
	return &source, nil
}

func (r *repository) TouchSourceSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookSource{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_seen_at": at, "updated_at": at}).Error
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.SmsPayment) (*models.SmsPayment, error) {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		return nil, err
	}
	return payment, nil
}

func (r *repository) FindPaymentByRequestID(ctx context.Context, requestID string) (*models.SmsPayment, error) {
	var payment models.SmsPayment
	if err := r.db.WithContext(ctx).
		First(&payment, "webhook_request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListActiveBankAccounts(ctx context.Context) ([]models.BankAccount, error) {
	var accounts []models.BankAccount
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("bank_code ASC, account_number ASC").
		Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}
