package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// RequestValidator подключает validator/v10 к echo.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New()}
}

// Validate реализует echo.Validator.
func (v *RequestValidator) Validate(i interface{}) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace()+": "+fe.Tag())
	}
	return echo.NewHTTPError(http.StatusBadRequest, "validation failed: "+strings.Join(fields, ", "))
}

// bindAndValidate разбирает тело запроса и проверяет DTO.
func bindAndValidate(c echo.Context, out interface{}) error {
	if err := c.Bind(out); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}
	return c.Validate(out)
}
