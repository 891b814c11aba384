package catalog

import (
	"context"
	"encoding/json"
	"strings"
)

// Money is a Storefront MoneyV2.
type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

// PriceRange spans a product's variant prices.
type PriceRange struct {
	MinVariantPrice Money `json:"minVariantPrice"`
	MaxVariantPrice Money `json:"maxVariantPrice"`
}

// ProductOption is an option axis such as Size.
type ProductOption struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// SelectedOption is a variant's value on one option axis.
type SelectedOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Variant is a purchasable product variant.
type Variant struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	AvailableForSale  bool             `json:"availableForSale"`
	QuantityAvailable *int             `json:"quantityAvailable"`
	Price             Money            `json:"price"`
	CompareAtPrice    *Money           `json:"compareAtPrice"`
	SelectedOptions   []SelectedOption `json:"selectedOptions"`
}

// Product is a catalog product with its first variants.
type Product struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Handle           string          `json:"handle"`
	Description      string          `json:"description,omitempty"`
	ProductType      string          `json:"productType,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
	AvailableForSale bool            `json:"availableForSale"`
	PriceRange       PriceRange      `json:"priceRange"`
	Options          []ProductOption `json:"options,omitempty"`
	Variants         []Variant       `json:"variants,omitempty"`
}

// Collection is a product category.
type Collection struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Handle      string    `json:"handle"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   string    `json:"updatedAt,omitempty"`
	Products    []Product `json:"products,omitempty"`
}

type connection[T any] struct {
	Edges []struct {
		Node T `json:"node"`
	} `json:"edges"`
}

func (c connection[T]) nodes() []T {
	out := make([]T, 0, len(c.Edges))
	for _, e := range c.Edges {
		out = append(out, e.Node)
	}
	return out
}

type productNode struct {
	Product
	Variants connection[Variant] `json:"variants"`
}

func (n productNode) flatten() Product {
	p := n.Product
	p.Variants = n.Variants.nodes()
	return p
}

const productAvailabilityQuery = `query ProductAvailability($query: String!) {
  products(first: 15, query: $query) {
    edges { node {
      id title handle description productType tags availableForSale
      priceRange { minVariantPrice { amount currencyCode } maxVariantPrice { amount currencyCode } }
      options { id name values }
      variants(first: 10) { edges { node {
        id title availableForSale quantityAvailable
        price { amount currencyCode }
        compareAtPrice { amount currencyCode }
        selectedOptions { name value }
      } } }
    } }
  }
}`

const productCategoriesQuery = `query ProductCategories($query: String) {
  collections(first: 50, query: $query) {
    edges { node { id title handle description updatedAt } }
  }
}`

const categoryProductsByPriceQuery = `query CategoryProductsByPrice($query: String, $reverse: Boolean!) {
  collections(first: 5, query: $query) {
    edges { node {
      id title handle
      products(first: 10, sortKey: PRICE, reverse: $reverse) {
        edges { node {
          id title handle availableForSale
          priceRange { minVariantPrice { amount currencyCode } maxVariantPrice { amount currencyCode } }
        } }
      }
    } }
  }
}`

// AvailabilityResult is returned by getProductAvailability.
type AvailabilityResult struct {
	Query    string         `json:"query"`
	Products []Product      `json:"products"`
	Errors   []GraphQLError `json:"errors"`
}

func (c *Client) searchProducts(ctx context.Context, search string) ([]Product, []GraphQLError, error) {
	var data struct {
		Products connection[productNode] `json:"products"`
	}
	gqlErrs, err := c.Query(ctx, productAvailabilityQuery, map[string]any{"query": search}, &data)
	gqlErrs, err = queryErrors(gqlErrs, err)
	if err != nil {
		return nil, nil, err
	}
	products := make([]Product, 0, len(data.Products.Edges))
	for _, n := range data.Products.nodes() {
		products = append(products, n.flatten())
	}
	return products, gqlErrs, nil
}

func (c *Client) productAvailability(ctx context.Context, input json.RawMessage) (any, error) {
	var args struct {
		Search string `json:"search"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	products, gqlErrs, err := c.searchProducts(ctx, args.Search)
	if err != nil {
		return nil, err
	}
	return AvailabilityResult{Query: args.Search, Products: products, Errors: gqlErrs}, nil
}

// CategoriesResult is returned by getProductCategories.
type CategoriesResult struct {
	Query      *string        `json:"query"`
	Categories []Collection   `json:"categories"`
	Errors     []GraphQLError `json:"errors"`
}

func (c *Client) productCategories(ctx context.Context, input json.RawMessage) (any, error) {
	var args struct {
		Query *string `json:"query"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	var data struct {
		Collections connection[Collection] `json:"collections"`
	}
	gqlErrs, err := c.Query(ctx, productCategoriesQuery, map[string]any{"query": args.Query}, &data)
	gqlErrs, err = queryErrors(gqlErrs, err)
	if err != nil {
		return nil, err
	}
	return CategoriesResult{Query: args.Query, Categories: data.Collections.nodes(), Errors: gqlErrs}, nil
}

// ByPriceResult is returned by getCategoryProductsByPrice.
type ByPriceResult struct {
	Query      *string        `json:"query"`
	Sort       string         `json:"sort"`
	Categories []Collection   `json:"categories"`
	Errors     []GraphQLError `json:"errors"`
}

func (c *Client) categoryProductsByPrice(ctx context.Context, input json.RawMessage) (any, error) {
	var args struct {
		Query *string `json:"query"`
		Sort  string  `json:"sort"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	if args.Sort == "" {
		args.Sort = "asc"
	}
	var data struct {
		Collections connection[struct {
			Collection
			Products connection[Product] `json:"products"`
		}] `json:"collections"`
	}
	vars := map[string]any{"query": args.Query, "reverse": args.Sort == "desc"}
	gqlErrs, err := c.Query(ctx, categoryProductsByPriceQuery, vars, &data)
	gqlErrs, err = queryErrors(gqlErrs, err)
	if err != nil {
		return nil, err
	}
	cats := make([]Collection, 0, len(data.Collections.Edges))
	for _, n := range data.Collections.nodes() {
		col := n.Collection
		col.Products = n.Products.nodes()
		cats = append(cats, col)
	}
	return ByPriceResult{Query: args.Query, Sort: args.Sort, Categories: cats, Errors: gqlErrs}, nil
}

// VariantsResult is returned by getVariantsMatchingFilters. Only products
// with at least one matching variant are listed.
type VariantsResult struct {
	Query         string            `json:"query"`
	Options       map[string]string `json:"options"`
	AvailableOnly bool              `json:"availableOnly"`
	Products      []Product         `json:"products"`
	Errors        []GraphQLError    `json:"errors"`
}

func (c *Client) variantsMatchingFilters(ctx context.Context, input json.RawMessage) (any, error) {
	var args struct {
		Search        string            `json:"search"`
		Options       map[string]string `json:"options"`
		AvailableOnly bool              `json:"availableOnly"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	products, gqlErrs, err := c.searchProducts(ctx, args.Search)
	if err != nil {
		return nil, err
	}

	matched := make([]Product, 0, len(products))
	for _, p := range products {
		var vs []Variant
		for _, v := range p.Variants {
			if args.AvailableOnly && !v.AvailableForSale {
				continue
			}
			if MatchesOptions(v, args.Options) {
				vs = append(vs, v)
			}
		}
		if len(vs) > 0 {
			p.Variants = vs
			matched = append(matched, p)
		}
	}
	return VariantsResult{
		Query:         args.Search,
		Options:       args.Options,
		AvailableOnly: args.AvailableOnly,
		Products:      matched,
		Errors:        gqlErrs,
	}, nil
}

// MatchesOptions reports whether v carries every filter. Option names and
// values compare case-insensitively with surrounding space ignored.
func MatchesOptions(v Variant, filters map[string]string) bool {
	for name, want := range filters {
		found := false
		for _, so := range v.SelectedOptions {
			if strings.EqualFold(strings.TrimSpace(so.Name), strings.TrimSpace(name)) &&
				strings.EqualFold(strings.TrimSpace(so.Value), strings.TrimSpace(want)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
