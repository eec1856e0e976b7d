package handler

import (
	"net/http"
	"reflect"
	"time"

	"nexopos/internal/apierror"
	"nexopos/internal/apperror"
	"nexopos/internal/dto"
	"nexopos/internal/middleware"
	"nexopos/internal/model"
	"nexopos/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// Register decimal.Decimal as a numeric type so that validator tags like
	// min=0, gt=0, required work without panicking ("Bad field type decimal.Decimal").
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// bindAndValidate binds JSON body and runs go-playground/validator tags.
// Returns false and writes the error response if validation fails;
// the caller should return immediately without writing another response.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid JSON: "+err.Error()))
		return false
	}
	return validateStruct(c, req)
}

// bindQuery is bindAndValidate for query-string filters.
func bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid query: "+err.Error()))
		return false
	}
	return validateStruct(c, req)
}

func validateStruct(c *gin.Context, req interface{}) bool {
	if err := validate.Struct(req); err != nil {
		fields := make(map[string]string)
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return false
	}
	return true
}

// respondError hands err to middleware.ErrorHandler, which owns the mapping.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// pathID parses the :id route parameter.
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

// actorFrom builds the acting user from the validated JWT.
func actorFrom(c *gin.Context) service.Actor {
	claims := middleware.GetClaims(c)
	tenantID, userID, _ := claims.IDs()
	return service.Actor{TenantID: tenantID, UserID: userID}
}

func optionalID(s *string) (*uuid.UUID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, apperror.Validation("invalid id %q", *s)
	}
	return &id, nil
}

// stockKey resolves a request key inside the caller's tenant.
func stockKey(tenantID uuid.UUID, req dto.StockKeyRequest) (model.StockKey, error) {
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		return model.StockKey{}, apperror.Validation("invalid product_id")
	}
	key := model.StockKey{TenantID: tenantID, ProductID: productID}
	if key.VariantID, err = optionalID(req.VariantID); err != nil {
		return model.StockKey{}, err
	}
	if key.WarehouseID, err = optionalID(req.WarehouseID); err != nil {
		return model.StockKey{}, err
	}
	if key.BatchID, err = optionalID(req.BatchID); err != nil {
		return model.StockKey{}, err
	}
	return key, nil
}

// dateRange turns YYYY-MM-DD bounds into [from 00:00, to+1 00:00).
// Validation tags have already checked the format.
func dateRange(from, to string) (*time.Time, *time.Time) {
	var f, t *time.Time
	if from != "" {
		d, _ := time.Parse("2006-01-02", from)
		f = &d
	}
	if to != "" {
		d, _ := time.Parse("2006-01-02", to)
		d = d.AddDate(0, 0, 1)
		t = &d
	}
	return f, t
}
