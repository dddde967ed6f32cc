package wallet

import (
	"fmt"

	"github.com/pkicash/pkicashd/internal/coin"
	"github.com/pkicash/pkicashd/internal/pkierrors"
)

// ReceiveFromEngine consumes a coin_delivery / coin_transfer row: it
// verifies the engine's signature on the confirmation, looks up the
// pending receive-keypair matching the delivered coin's pk_current, and —
// only if both succeed — installs the coin and logs the event. A delivery
// addressed to a key this wallet never pre-issued (or that has since been
// evicted, see keys.go) is rejected with KindMissingPendingKey and leaves
// the wallet state untouched; possible spoofing or an evicted key is not
// distinguished, matching spec.md §4.4.
func (s *Store) ReceiveFromEngine(delivery coin.Delivery, senderDest string) error {
	const op = "wallet.ReceiveFromEngine"

	if !delivery.Confirmation.Verify() {
		return pkierrors.New(op, pkierrors.KindInvalidSignature,
			fmt.Errorf("engine signature on confirmation for coin %s does not verify", delivery.Coin.CoinID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.trustedIssuers) > 0 && !s.ValidateCoin(delivery.Coin, s.trustedIssuers) {
		return pkierrors.New(op, pkierrors.KindUntrustedIssuer,
			fmt.Errorf("coin %s issued by untrusted issuer %s…", delivery.Coin.CoinID, shorten(delivery.Coin.IssuerPK)))
	}

	pkCurrent := delivery.Coin.CurrentPK
	skHex, found := s.popPendingKeypair(pkCurrent)
	if !found {
		return pkierrors.New(op, pkierrors.KindMissingPendingKey,
			fmt.Errorf("no pending receive keypair for pk %s…", shorten(pkCurrent)))
	}

	s.doc.Coins[delivery.Coin.CoinID] = heldCoin{
		Coin:         delivery.Coin,
		SKCurrentHex: skHex,
	}

	action := "received-from-issuer"
	if delivery.Confirmation.Status == coin.StatusConfirmed {
		action = "received-payment"
	}
	counterparty := senderDest
	if counterparty == "" {
		counterparty = delivery.SenderDest
	}
	s.appendLog(action, delivery.Coin.CoinID, delivery.Coin.Value, counterparty, delivery.Description)

	if err := s.save(); err != nil {
		return pkierrors.New(op, pkierrors.KindOther, err)
	}

	log.Infof("installed coin %s, value %d, from %s", delivery.Coin.CoinID, delivery.Coin.Value, counterparty)
	return nil
}

// ValidateCoin reports whether a coin's issuer is in trustedIssuers and its
// issuer signature verifies — the wallet-side trust check a wallet may
// run before acting on a coin it was shown out of band (spec.md §6 "trust
// model").
func (s *Store) ValidateCoin(c coin.Coin, trustedIssuers []string) bool {
	trusted := false
	for _, pk := range trustedIssuers {
		if pk == c.IssuerPK {
			trusted = true
			break
		}
	}
	if !trusted {
		return false
	}
	return c.VerifyIssuer()
}

func shorten(hexStr string) string {
	if len(hexStr) <= 16 {
		return hexStr
	}
	return hexStr[:16] + "…"
}
