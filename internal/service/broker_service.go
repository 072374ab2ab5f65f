package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"algopilot/internal/broker"
	"algopilot/internal/engine"
	"algopilot/internal/models"
	"algopilot/internal/risk"
	"algopilot/pkg/crypto"
	"algopilot/pkg/utils"
)

// Ошибки сервиса
var (
	ErrValidation            = errors.New("validation failed")
	ErrBrokerNotSupported    = errors.New("broker is not supported")
	ErrBrokerAccountInactive = errors.New("broker account is inactive")
)

// adapterKey - адаптер кэшируется на пару (счёт, режим)
type adapterKey struct {
	accountID int
	mode      models.TradingMode
}

// priceSink - адаптер, которому нужны цены закрытия (симулятор)
type priceSink interface {
	ObservePrice(symbol string, price decimal.Decimal)
}

// CreateBrokerAccountRequest - данные для привязки счёта
type CreateBrokerAccountRequest struct {
	BrokerName  string `json:"broker_name"`
	AccountID   string `json:"account_id"`
	APIKey      string `json:"api_key"`
	APISecret   string `json:"api_secret"`
	AccessToken string `json:"access_token"`
	IsDefault   bool   `json:"is_default"`
}

// BrokerService - брокерские счета и кэш адаптеров.
//
// Ключи шифруются AES-256-GCM перед сохранением и расшифровываются
// только при создании адаптера. Для paper-запусков выдаётся симулятор
// на каждый счёт, для live - адаптер брокера счёта.
type BrokerService struct {
	accounts BrokerAccountRepositoryInterface
	cipher   *crypto.Cipher
	opts     broker.Options
	logger   *zap.Logger

	// Кэш активных адаптеров и последние цены для новых симуляторов
	adapters   map[adapterKey]broker.Adapter
	lastPrices map[string]decimal.Decimal
	adaptersMu sync.RWMutex
}

// NewBrokerService создает сервис. opts передаются фабрике адаптеров.
func NewBrokerService(accounts BrokerAccountRepositoryInterface, cipher *crypto.Cipher, opts broker.Options, logger *zap.Logger) *BrokerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return &BrokerService{
		accounts:   accounts,
		cipher:     cipher,
		opts:       opts,
		logger:     logger.With(utils.Component("broker_service")),
		adapters:   make(map[adapterKey]broker.Adapter),
		lastPrices: make(map[string]decimal.Decimal),
	}
}

var (
	_ engine.AdapterProvider = (*BrokerService)(nil)
	_ engine.PriceObserver   = (*BrokerService)(nil)
	_ risk.CapitalSource     = (*BrokerService)(nil)
)

// CreateAccount привязывает брокерский счёт.
// Выполняет:
// 1. Проверку брокера и обязательных реквизитов (через фабрику)
// 2. Шифрование ключей
// 3. Сохранение в БД
func (s *BrokerService) CreateAccount(ctx context.Context, req CreateBrokerAccountRequest) (*models.BrokerAccount, error) {
	name := strings.ToLower(strings.TrimSpace(req.BrokerName))
	if !broker.IsSupported(name) {
		return nil, fmt.Errorf("%w: %s", ErrBrokerNotSupported, req.BrokerName)
	}

	creds := broker.Credentials{
		APIKey:      req.APIKey,
		APISecret:   req.APISecret,
		AccessToken: req.AccessToken,
		AccountID:   req.AccountID,
	}
	// фабрика проверяет реквизиты; сетевых вызовов при создании нет
	if _, err := broker.New(name, creds, s.opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	account := &models.BrokerAccount{
		BrokerName: name,
		AccountID:  req.AccountID,
		IsActive:   true,
		IsDefault:  req.IsDefault,
	}
	var err error
	if account.APIKey, err = s.cipher.Encrypt(req.APIKey); err != nil {
		return nil, fmt.Errorf("encrypt api key: %w", err)
	}
	if account.APISecret, err = s.cipher.Encrypt(req.APISecret); err != nil {
		return nil, fmt.Errorf("encrypt api secret: %w", err)
	}
	if account.AccessToken, err = s.cipher.Encrypt(req.AccessToken); err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	s.logger.Info("broker account created",
		utils.BrokerAccountID(account.ID),
		utils.Broker(account.BrokerName))
	return account, nil
}

// GetAccount возвращает счёт по ID
func (s *BrokerService) GetAccount(ctx context.Context, id int) (*models.BrokerAccount, error) {
	return s.accounts.GetByID(ctx, id)
}

// ListAccounts возвращает все счета
func (s *BrokerService) ListAccounts(ctx context.Context) ([]*models.BrokerAccount, error) {
	return s.accounts.List(ctx)
}

// DeleteAccount удаляет счёт и сбрасывает его адаптеры
func (s *BrokerService) DeleteAccount(ctx context.Context, id int) error {
	if err := s.accounts.Delete(ctx, id); err != nil {
		return err
	}
	s.evict(id)
	s.logger.Info("broker account deleted", utils.BrokerAccountID(id))
	return nil
}

// Balance возвращает баланс счёта в указанном режиме
func (s *BrokerService) Balance(ctx context.Context, id int, mode models.TradingMode) (*broker.Balance, error) {
	adapter, err := s.AdapterFor(ctx, id, mode)
	if err != nil {
		return nil, err
	}
	return adapter.GetAccountBalance(ctx)
}

// AccountBalance - источник капитала для риск-правил
func (s *BrokerService) AccountBalance(ctx context.Context, brokerAccountID int, mode models.TradingMode) (*broker.Balance, error) {
	return s.Balance(ctx, brokerAccountID, mode)
}

// AdapterFor возвращает (или создаёт) адаптер для счёта и режима
func (s *BrokerService) AdapterFor(ctx context.Context, brokerAccountID int, mode models.TradingMode) (broker.Adapter, error) {
	key := adapterKey{accountID: brokerAccountID, mode: mode}

	s.adaptersMu.RLock()
	adapter, ok := s.adapters[key]
	s.adaptersMu.RUnlock()
	if ok {
		return adapter, nil
	}

	account, err := s.accounts.GetByID(ctx, brokerAccountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, fmt.Errorf("%w: %d", ErrBrokerAccountInactive, brokerAccountID)
	}

	adapter, err = s.newAdapter(account, mode)
	if err != nil {
		return nil, err
	}

	s.adaptersMu.Lock()
	defer s.adaptersMu.Unlock()
	// конкурентный вызов мог создать адаптер раньше
	if existing, ok := s.adapters[key]; ok {
		return existing, nil
	}
	if sink, ok := adapter.(priceSink); ok && mode == models.TradingModePaper {
		for symbol, price := range s.lastPrices {
			sink.ObservePrice(symbol, price)
		}
	}
	s.adapters[key] = adapter
	return adapter, nil
}

func (s *BrokerService) newAdapter(account *models.BrokerAccount, mode models.TradingMode) (broker.Adapter, error) {
	if mode == models.TradingModePaper {
		return broker.New(broker.PaperBroker, broker.Credentials{}, s.opts)
	}

	creds := broker.Credentials{AccountID: account.AccountID}
	var err error
	if creds.APIKey, err = s.cipher.Decrypt(account.APIKey); err != nil {
		return nil, fmt.Errorf("decrypt api key: %w", err)
	}
	if creds.APISecret, err = s.cipher.Decrypt(account.APISecret); err != nil {
		return nil, fmt.Errorf("decrypt api secret: %w", err)
	}
	if creds.AccessToken, err = s.cipher.Decrypt(account.AccessToken); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	return broker.New(account.BrokerName, creds, s.opts)
}

// ObservePrice передаёт цену закрытия всем бумажным адаптерам
func (s *BrokerService) ObservePrice(symbol string, price decimal.Decimal) {
	s.adaptersMu.Lock()
	defer s.adaptersMu.Unlock()
	s.lastPrices[symbol] = price
	for key, adapter := range s.adapters {
		if key.mode != models.TradingModePaper {
			continue
		}
		if sink, ok := adapter.(priceSink); ok {
			sink.ObservePrice(symbol, price)
		}
	}
}

func (s *BrokerService) evict(accountID int) {
	s.adaptersMu.Lock()
	defer s.adaptersMu.Unlock()
	for key := range s.adapters {
		if key.accountID == accountID {
			delete(s.adapters, key)
		}
	}
}
