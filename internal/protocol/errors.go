package protocol

import "github.com/pkicash/pkicashd/internal/pkierrors"

func errNotFound(op string) error {
	return pkierrors.New(op, pkierrors.KindOther, nil)
}
