package sqlstore

import "github.com/coinhaven/depositd/core"

var (
	_ core.DepositTransactionStore = (*DepositTransactionStore)(nil)
	_ core.DepositStore            = (*DepositStore)(nil)
	_ core.BalanceStore            = (*UserAssetStore)(nil)
	_ core.AddressDirectory        = (*DepositAddressStore)(nil)
	_ core.AddressDirectory        = (*CachedAddressDirectory)(nil)
	_ core.DeadLetterStore         = (*DeadLetterStore)(nil)
	_ core.NotificationStore       = (*DepositNotificationStore)(nil)
)
