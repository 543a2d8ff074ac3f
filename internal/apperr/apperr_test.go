package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Run("Nil", func(t *testing.T) {
		f := Classify(nil)
		assert.Equal(t, KindNone, f.Kind)
		assert.Equal(t, NoError, f.Code())
	})

	t.Run("Business", func(t *testing.T) {
		f := Classify(New(NoFareForClassUsed, "no fare for booked class"))
		require.Equal(t, KindBusiness, f.Kind)
		assert.Equal(t, NoFareForClassUsed, f.Code())
		assert.Equal(t, "no fare for booked class", f.Description)
	})

	t.Run("WrappedBusiness", func(t *testing.T) {
		err := fmt.Errorf("fare collector: %w", New(RefundRulesFailed, ""))
		f := Classify(err)
		require.Equal(t, KindBusiness, f.Kind)
		assert.Equal(t, RefundRulesFailed, f.Code())
		assert.Same(t, err, f.Err)
	})

	t.Run("Runtime", func(t *testing.T) {
		f := Classify(errors.New("index out of range"))
		assert.Equal(t, KindRuntime, f.Kind)
		assert.Equal(t, UnknownException, f.Code())
		assert.Nil(t, f.Business)
	})

	t.Run("Opaque", func(t *testing.T) {
		f := Classify(&OpaqueError{Value: 42})
		assert.Equal(t, KindOpaque, f.Kind)
		assert.Equal(t, UnknownException, f.Code())
		assert.Contains(t, f.Description, "42")
	})
}

func TestIsRedirectable(t *testing.T) {
	for _, c := range []Code{NoFareForClassUsed, NoCombinableFaresForClass, UnableToMatchReissueRules, RefundRulesFailed} {
		assert.True(t, IsRedirectable(c), c)
	}
	for _, c := range []Code{ReissueRulesFail, UnknownException, NoError, InvalidTrxForRedirectToPortExchange} {
		assert.False(t, IsRedirectable(c), c)
	}
}

func TestBusinessError_Error(t *testing.T) {
	assert.Equal(t, "REISSUE_RULES_FAIL", New(ReissueRulesFail, "").Error())
	assert.Equal(t, "NO_FARE_MATCH: segment 2", Newf(NoFareMatch, "segment %d", 2).Error())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, HTTPStatus(nil))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(InvalidRequest, "bad")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(New(InvalidTrxForRedirectToPortExchange, "")))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(New(ReissueRulesFail, "")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(&OpaqueError{Value: -1}))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(fmt.Errorf("pricing: %w", context.DeadlineExceeded)))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "NO_FARE_MATCH", Kind(New(NoFareMatch, "")))
	assert.Equal(t, "internal", Kind(errors.New("x")))
	assert.Equal(t, "canceled", Kind(context.Canceled))
}
