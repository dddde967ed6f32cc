package wallet

import (
	"fmt"

	"github.com/pkicash/pkicashd/internal/coin"
	"github.com/pkicash/pkicashd/internal/pkicrypto"
	"github.com/pkicash/pkicashd/internal/pkierrors"
)

// CreateTransaction signs a transfer of coinID to pkNextHex, to be sent to
// the engine as a transaction request. The coin is NOT removed from the
// wallet at this point — only ConfirmSend, called after the engine has
// accepted the transfer, commits the spend locally. This ordering (sign,
// then wait for the engine's ack, then delete) is what guarantees the
// wallet never holds both sk_current and a committed spend of the same
// coin: a failed or never-sent transaction leaves the coin spendable.
func (s *Store) CreateTransaction(coinID, pkNextHex, recipientDest string) (coin.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.doc.Coins[coinID]
	if !ok {
		return coin.Transfer{}, pkierrors.New("wallet.CreateTransaction", pkierrors.KindUnknownCoin,
			fmt.Errorf("coin %s not held by this wallet", coinID))
	}

	sk, err := pkicrypto.PrivateKeyFromHex(entry.SKCurrentHex)
	if err != nil {
		return coin.Transfer{}, pkierrors.New("wallet.CreateTransaction", pkierrors.KindOther, err)
	}

	transfer := coin.Transfer{
		CoinID:        coinID,
		NextPK:        pkNextHex,
		RecipientDest: recipientDest,
	}
	sig := pkicrypto.Sign(sk, transfer.SigningPayload())
	transfer.Signature = pkicrypto.SignatureToHex(sig)

	log.Debugf("signed transfer of coin %s to recipient %s", coinID, recipientDest)
	return transfer, nil
}

// ConfirmSend commits a spend the engine has already accepted: the coin is
// removed from the wallet's holdings and a "sent" log entry is appended.
// Call this only after the engine's confirmation for coinID has come
// back — a transport failure or engine rejection must leave the wallet
// state untouched, so callers must not call ConfirmSend speculatively.
func (s *Store) ConfirmSend(coinID, recipientDest, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.doc.Coins[coinID]
	if !ok {
		return pkierrors.New("wallet.ConfirmSend", pkierrors.KindUnknownCoin,
			fmt.Errorf("coin %s not held by this wallet", coinID))
	}

	delete(s.doc.Coins, coinID)
	s.appendLog("sent", coinID, entry.Coin.Value, recipientDest, description)

	return s.save()
}
