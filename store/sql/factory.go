package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory wires every pipeline store against one bun handle.
type RepositoryFactory struct {
	db *bun.DB

	depositTransactionStore *DepositTransactionStore
	depositStore            *DepositStore
	userAssetStore          *UserAssetStore
	depositAddressStore     *DepositAddressStore
	deadLetterStore         *DeadLetterStore
	notificationStore       *DepositNotificationStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.depositTransactionStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) initStores() error {
	depositTransactionStore, err := NewDepositTransactionStore(f.db)
	if err != nil {
		return err
	}
	depositStore, err := NewDepositStore(f.db)
	if err != nil {
		return err
	}
	userAssetStore, err := NewUserAssetStore(f.db)
	if err != nil {
		return err
	}
	depositAddressStore, err := NewDepositAddressStore(f.db)
	if err != nil {
		return err
	}
	deadLetterStore, err := NewDeadLetterStore(f.db)
	if err != nil {
		return err
	}
	notificationStore, err := NewDepositNotificationStore(f.db)
	if err != nil {
		return err
	}

	f.depositTransactionStore = depositTransactionStore
	f.depositStore = depositStore
	f.userAssetStore = userAssetStore
	f.depositAddressStore = depositAddressStore
	f.deadLetterStore = deadLetterStore
	f.notificationStore = notificationStore
	return nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) DepositTransactionStore() *DepositTransactionStore {
	if f == nil {
		return nil
	}
	return f.depositTransactionStore
}

func (f *RepositoryFactory) DepositStore() *DepositStore {
	if f == nil {
		return nil
	}
	return f.depositStore
}

func (f *RepositoryFactory) UserAssetStore() *UserAssetStore {
	if f == nil {
		return nil
	}
	return f.userAssetStore
}

func (f *RepositoryFactory) DepositAddressStore() *DepositAddressStore {
	if f == nil {
		return nil
	}
	return f.depositAddressStore
}

func (f *RepositoryFactory) DeadLetterStore() *DeadLetterStore {
	if f == nil {
		return nil
	}
	return f.deadLetterStore
}

func (f *RepositoryFactory) NotificationStore() *DepositNotificationStore {
	if f == nil {
		return nil
	}
	return f.notificationStore
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client %T", candidate)
	}
}
