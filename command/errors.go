package command

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/coinhaven/depositd/core"
)

func commandDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorCodeInternal)
}
