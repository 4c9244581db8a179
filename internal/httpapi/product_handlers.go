package httpapi

import (
	"net/http"

	"gatehouse.dev/internal/catalog"
)

func (a *API) listProducts(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		a.respond(w, r, err)
		return
	}
	page, err := a.products.List(r.Context(), catalog.ProductQuery{
		Page:      p.page,
		Limit:     p.limit,
		Search:    p.search,
		SortBy:    p.sortBy,
		SortOrder: p.sortOrder,
	})
	if err != nil {
		a.respond(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := a.products.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.respond(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) createProduct(w http.ResponseWriter, r *http.Request) {
	var req catalog.ProductInput
	if err := decodeJSON(r, &req); err != nil {
		a.respond(w, r, err)
		return
	}
	p, err := a.products.Create(r.Context(), req)
	if err != nil {
		a.respond(w, r, err)
		return
	}
	a.audit(r.Context(), "catalog.product.create", map[string]any{"product_id": p.ID})
	w.Header().Set("Location", "/v1/products/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

type importProductsRequest struct {
	Items []catalog.ProductImport `json:"items"`
}

func (a *API) importProducts(w http.ResponseWriter, r *http.Request) {
	var req importProductsRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respond(w, r, err)
		return
	}
	out, err := a.products.Import(r.Context(), req.Items)
	if err != nil {
		a.respond(w, r, err)
		return
	}
	a.audit(r.Context(), "catalog.product.import", map[string]any{"count": len(out)})
	writeJSON(w, http.StatusOK, listResponse[catalog.Product]{Data: out})
}

func (a *API) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req catalog.ProductUpdate
	if err := decodeJSON(r, &req); err != nil {
		a.respond(w, r, err)
		return
	}
	p, err := a.products.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.respond(w, r, err)
		return
	}
	a.audit(r.Context(), "catalog.product.update", map[string]any{"product_id": p.ID})
	writeJSON(w, http.StatusOK, p)
}

func (a *API) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.products.Delete(r.Context(), id); err != nil {
		a.respond(w, r, err)
		return
	}
	a.audit(r.Context(), "catalog.product.delete", map[string]any{"product_id": id})
	w.WriteHeader(http.StatusNoContent)
}
