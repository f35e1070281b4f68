package store

import (
	"strings"

	"github.com/marqocore/vespacore/pkg/apperr"
)

// translateDocStatus implements the §6.1 store-HTTP -> this-system
// translation table for single-document outcomes. carriedPrecondition
// tells it whether the update that produced a 412 carried a
// fieldTypes/createTimestamp precondition (without one, the only
// condition is the id match, so a 412 means "document truly absent").
func translateDocStatus(httpStatus int, body string, carriedPrecondition bool) (status int, message string) {
	switch httpStatus {
	case 200:
		return 200, ""
	case 404:
		return 404, "Document does not exist in the index"
	case 412:
		if !carriedPrecondition {
			return 404, "Document does not exist in the index"
		}
		return 400, "Marqo vector store couldn't update the document. See https://docs.marqo.ai/latest/ for details on partial document updates."
	case 429:
		return 429, "Marqo vector store received too many requests. Please try again shortly."
	case 507:
		return 400, "Marqo vector store is out of memory or disk space."
	default:
		if httpStatus >= 400 && httpStatus < 500 && strings.Contains(body, "could not parse field") {
			return 400, "The document contains invalid characters in one of its fields."
		}
		return 500, "Marqo vector store returned an unexpected error."
	}
}

// translateQueryError implements §4.1's query error-kind mapping: a
// store timeout (code-12/"soft doom") maps to Timeout; any mixture of
// timeout and non-timeout errors, or any other 4xx/5xx, maps to Status
// carrying every subordinate error summary.
func translateQueryError(httpStatus int, subordinateErrors []string) error {
	if httpStatus == 200 {
		return nil
	}
	allTimeouts := len(subordinateErrors) > 0
	for _, e := range subordinateErrors {
		if !isTimeoutError(e) {
			allTimeouts = false
			break
		}
	}
	if allTimeouts && len(subordinateErrors) == 1 {
		return apperr.New(apperr.KindTimeout, "query timed out")
	}
	if len(subordinateErrors) == 0 {
		return apperr.Newf(apperr.KindStatus, "store returned HTTP %d", httpStatus)
	}
	return apperr.Newf(apperr.KindStatus, "store returned HTTP %d: %s", httpStatus, strings.Join(subordinateErrors, "; "))
}

func isTimeoutError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "timeout") || strings.Contains(lower, "soft doom") || strings.Contains(lower, "code: 12")
}
