// internal/handlers/product.go
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/printshop/storefront-backend/internal/models"
	"github.com/printshop/storefront-backend/internal/services"
	"github.com/printshop/storefront-backend/internal/utils"
)

type ProductHandler struct {
	productService *services.ProductService
}

func NewProductHandler(productService *services.ProductService) *ProductHandler {
	return &ProductHandler{
		productService: productService,
	}
}

// GET /products
func (h *ProductHandler) GetProducts(c *gin.Context) {
	params := services.ProductListParams{
		PaginationParams: utils.GetPaginationParams(c),
		ArtistID:         c.Query("artist_id"),
	}
	if inStock, err := strconv.ParseBool(c.Query("in_stock")); err == nil {
		params.InStock = inStock
	}

	products, total, err := h.productService.ListProducts(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}

	for i := range products {
		products[i] = catalogueView(products[i])
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(products, total, params.PaginationParams))
}

// GET /products/:id
func (h *ProductHandler) GetProduct(c *gin.Context) {
	product, err := h.productService.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, catalogueView(*product))
}

// POST /admin/products
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	var req services.CreateProductRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.productService.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, product)
}

// catalogueView hides issued units from the public catalogue; they carry
// order and payment references. Units are looked up one at a time through
// certificate verification.
func catalogueView(p models.Product) models.Product {
	p.IdentificationNumbers = nil
	return p
}
