package wallet

import "github.com/pkicash/pkicashd/internal/pkicrypto"

// GenerateReceiveKeypair creates a fresh keypair speculatively, to be
// handed out as the pk_next of some future coin_request or payment_request
// before any coin actually exists. The secret half is held in
// pending_keypairs until a matching delivery consumes it.
//
// The pending set is bounded: once it holds maxPendingKeypairs entries,
// the oldest unconsumed one is evicted before the new one is added. A
// delivery that later arrives against an evicted key is rejected with
// KindMissingPendingKey, the same as one that was never issued — see
// receive.go.
func (s *Store) GenerateReceiveKeypair() (string, error) {
	kp, err := pkicrypto.GenerateKeyPair()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pkHex := pkicrypto.PublicKeyToHex(kp.Public)

	if len(s.doc.PendingKeypairOrder) >= s.maxPendingKeypairs {
		oldest := s.doc.PendingKeypairOrder[0]
		s.doc.PendingKeypairOrder = s.doc.PendingKeypairOrder[1:]
		delete(s.doc.PendingKeypairs, oldest)
		log.Warnf("evicted pending receive keypair %s…, bound of %d reached", oldest[:8], s.maxPendingKeypairs)
	}

	s.doc.PendingKeypairs[pkHex] = pkicrypto.PrivateKeyToHex(kp.Private)
	s.doc.PendingKeypairOrder = append(s.doc.PendingKeypairOrder, pkHex)

	if err := s.save(); err != nil {
		return "", err
	}
	return pkHex, nil
}

// popPendingKeypair removes and returns the secret key registered for pk,
// if any. Callers hold s.mu already.
func (s *Store) popPendingKeypair(pkHex string) (string, bool) {
	skHex, ok := s.doc.PendingKeypairs[pkHex]
	if !ok {
		return "", false
	}
	delete(s.doc.PendingKeypairs, pkHex)
	for i, pk := range s.doc.PendingKeypairOrder {
		if pk == pkHex {
			s.doc.PendingKeypairOrder = append(s.doc.PendingKeypairOrder[:i], s.doc.PendingKeypairOrder[i+1:]...)
			break
		}
	}
	return skHex, true
}

// PendingKeypairCount returns how many receive keys are currently awaiting
// a delivery. Exposed for operator tooling and tests.
func (s *Store) PendingKeypairCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.doc.PendingKeypairs)
}
