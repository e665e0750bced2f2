package mongodb

import (
	"sort"

	"github.com/chapool/custody-engine/internal/wallet/account"
)

func sortByTag(accounts []*account.WalletAccount) {
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Tag() < accounts[j].Tag() })
}
