package model

import "github.com/marqocore/vespacore/pkg/apperr"

func invalidArg(format string, args ...any) error {
	return apperr.Newf(apperr.KindInvalidArgument, format, args...)
}
