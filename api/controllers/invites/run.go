package invites

import (
	"fmt"
	"net/http"

	"github.com/angelmondragon/invite-ledger/api/responses"
	"github.com/angelmondragon/invite-ledger/api/validators"
	"github.com/angelmondragon/invite-ledger/internal/dispatch"
	pkgerrors "github.com/angelmondragon/invite-ledger/pkg/errors"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
	"github.com/angelmondragon/invite-ledger/pkg/types"
)

type runResponse struct {
	types.Ack
	dispatch.BatchResult
}

// Run triggers one dispatch batch. The caller authenticates with the shared
// secret in the token query parameter; limit is optional.
func Run(runner dispatch.Runner, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if !validators.SecretMatches(r.URL.Query().Get("token"), secret) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "unauthorized"))
			return
		}
		if runner == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConfigurationMissing, "dispatch worker unavailable"))
			return
		}

		limit, err := validators.ParseQueryIntClamped(r, "limit", runner.MaxPerRun(), 1, runner.MaxPerRun())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := runner.RunBatch(ctx, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if result.Results == nil {
			result.Results = []dispatch.RowResult{}
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("dispatch run processed=%d fulfilled=%d", result.Processed, result.Fulfilled))
		}
		responses.WriteSuccess(w, runResponse{Ack: types.Ack{OK: true}, BatchResult: result})
	}
}
