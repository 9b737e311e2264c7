package handler

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/buyer"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/notification"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

type addressRequest struct {
	FullName   string `json:"fullName" validate:"required,max=128"`
	Phone      string `json:"phone" validate:"required,max=32"`
	Line1      string `json:"line1" validate:"required,max=256"`
	Line2      string `json:"line2" validate:"max=256"`
	City       string `json:"city" validate:"required,max=128"`
	Region     string `json:"region" validate:"max=128"`
	PostalCode string `json:"postalCode" validate:"max=32"`
	Country    string `json:"country" validate:"required,max=64"`
}

func (a addressRequest) toDomain() buyer.Address {
	return buyer.Address{
		FullName:   strings.TrimSpace(a.FullName),
		Phone:      strings.TrimSpace(a.Phone),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		Region:     strings.TrimSpace(a.Region),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
	}
}

type imageResponse struct {
	Thumbnail string `json:"thumbnail"`
	Mobile    string `json:"mobile"`
	Tablet    string `json:"tablet"`
	Desktop   string `json:"desktop"`
}

type colorResponse struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Images []string `json:"images"`
}

type productResponse struct {
	ID              string          `json:"id"`
	SellerID        string          `json:"sellerId"`
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	Price           float64         `json:"price"`
	DiscountPercent float64         `json:"discountPercent"`
	SalePrice       float64         `json:"salePrice"`
	DeliveryPrice   float64         `json:"deliveryPrice"`
	Stock           int             `json:"stock"`
	OrderCount      int             `json:"orderCount"`
	Colors          []colorResponse `json:"colors"`
	Image           imageResponse   `json:"image"`
}

// toProductResponse converts a catalog product. Image paths are prefixed
// with the configured image base URL.
func (a *API) toProductResponse(p product.Product) productResponse {
	colors := make([]colorResponse, 0, len(p.Colors))
	for _, c := range p.Colors {
		images := make([]string, 0, len(c.Images))
		for _, img := range c.Images {
			images = append(images, a.imageURL(img))
		}
		colors = append(colors, colorResponse{ID: c.ID, Name: c.Name, Images: images})
	}
	return productResponse{
		ID:              p.ID,
		SellerID:        p.SellerID,
		Name:            p.Name,
		Category:        p.Category,
		Price:           p.Price.InexactFloat64(),
		DiscountPercent: p.DiscountPercent.InexactFloat64(),
		SalePrice:       p.SalePrice().InexactFloat64(),
		DeliveryPrice:   p.DeliveryPrice.InexactFloat64(),
		Stock:           p.Stock,
		OrderCount:      p.OrderCount,
		Colors:          colors,
		Image: imageResponse{
			Thumbnail: a.imageURL(p.Image.Thumbnail),
			Mobile:    a.imageURL(p.Image.Mobile),
			Tablet:    a.imageURL(p.Image.Tablet),
			Desktop:   a.imageURL(p.Image.Desktop),
		},
	}
}

func (a *API) imageURL(path string) string {
	if path == "" || a.imageBase == "" || strings.Contains(path, "://") {
		return path
	}
	return strings.TrimRight(a.imageBase, "/") + "/" + strings.TrimLeft(path, "/")
}

type cartItemResponse struct {
	ProductID  string      `json:"productId"`
	Quantity   int         `json:"quantity"`
	Price      float64     `json:"price"`
	Subtotal   float64     `json:"subtotal"`
	IsSelected bool        `json:"isSelected"`
	Color      *cart.Color `json:"color,omitempty"`
}

type cartResponse struct {
	BuyerID     string             `json:"buyerId"`
	Items       []cartItemResponse `json:"items"`
	TotalAmount float64            `json:"totalAmount"`
	UpdatedAt   *time.Time         `json:"updatedAt,omitempty"`
}

func toCartResponse(c *cart.Cart) cartResponse {
	items := make([]cartItemResponse, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, cartItemResponse{
			ProductID:  it.ProductID,
			Quantity:   it.Quantity,
			Price:      it.Price.InexactFloat64(),
			Subtotal:   it.Subtotal().InexactFloat64(),
			IsSelected: it.IsSelected,
			Color:      it.Color,
		})
	}
	resp := cartResponse{
		BuyerID:     c.BuyerID,
		Items:       items,
		TotalAmount: c.TotalAmount.InexactFloat64(),
	}
	if !c.UpdatedAt.IsZero() {
		resp.UpdatedAt = &c.UpdatedAt
	}
	return resp
}

type orderItemResponse struct {
	ProductID string      `json:"productId"`
	Name      string      `json:"name"`
	Quantity  int         `json:"quantity"`
	Price     float64     `json:"price"`
	Subtotal  float64     `json:"subtotal"`
	Color     *cart.Color `json:"color,omitempty"`
}

type orderResponse struct {
	ID               string              `json:"id"`
	OrderID          string              `json:"orderId"`
	BuyerID          string              `json:"buyerId"`
	SellerID         string              `json:"sellerId"`
	Items            []orderItemResponse `json:"items"`
	Status           order.Status        `json:"status"`
	TotalAmount      float64             `json:"totalAmount"`
	DeliveryPrice    float64             `json:"deliveryPrice"`
	ReferralDiscount float64             `json:"referralDiscount"`
	CoinsUsed        int64               `json:"coinsUsed"`
	CoinValueUsed    float64             `json:"coinValueUsed"`
	FinalAmount      float64             `json:"finalAmount"`
	ShippingAddress  buyer.Address       `json:"shippingAddress"`
	PaymentMethod    string              `json:"paymentMethod"`
	CancelReason     order.CancelReason  `json:"cancelReason,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     it.Price.InexactFloat64(),
			Subtotal:  it.Subtotal().InexactFloat64(),
			Color:     it.Color,
		})
	}
	return orderResponse{
		ID:               o.ID,
		OrderID:          o.OrderID,
		BuyerID:          o.BuyerID,
		SellerID:         o.SellerID,
		Items:            items,
		Status:           o.Status,
		TotalAmount:      money(o.TotalAmount),
		DeliveryPrice:    money(o.DeliveryPrice),
		ReferralDiscount: money(o.ReferralDiscount),
		CoinsUsed:        o.CoinsUsed,
		CoinValueUsed:    o.CoinValueUsed.InexactFloat64(),
		FinalAmount:      money(o.FinalAmount),
		ShippingAddress:  o.ShippingAddress,
		PaymentMethod:    o.PaymentMethod,
		CancelReason:     o.CancelReason,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func toOrderList(orders []order.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, toOrderResponse(&orders[i]))
	}
	return out
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

type referralEntryResponse struct {
	ReferredUser string    `json:"referredUser"`
	OrderID      string    `json:"orderId"`
	CoinsEarned  int64     `json:"coinsEarned"`
	OrderAmount  float64   `json:"orderAmount"`
	CreatedAt    time.Time `json:"createdAt"`
}

type referralResponse struct {
	Code           string                  `json:"referralCode"`
	Coins          int64                   `json:"referralCoins"`
	TotalReferrals int                     `json:"totalReferrals"`
	History        []referralEntryResponse `json:"history"`
}

func toReferralResponse(s *buyer.ReferralSummary) referralResponse {
	history := make([]referralEntryResponse, 0, len(s.History))
	for _, e := range s.History {
		history = append(history, referralEntryResponse{
			ReferredUser: e.ReferredUser,
			OrderID:      e.OrderID,
			CoinsEarned:  e.CoinsEarned,
			OrderAmount:  money(e.OrderAmount),
			CreatedAt:    e.CreatedAt,
		})
	}
	return referralResponse{
		Code:           s.Code,
		Coins:          s.Coins,
		TotalReferrals: s.TotalReferrals,
		History:        history,
	}
}

type savedAddressResponse struct {
	ID         string        `json:"id"`
	Address    buyer.Address `json:"address"`
	LastUsedAt time.Time     `json:"lastUsedAt"`
}

type notificationResponse struct {
	ID        string            `json:"id"`
	Type      notification.Type `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"createdAt"`
}

func toNotificationResponse(n notification.Notification) notificationResponse {
	data := n.Data
	if data == nil {
		data = map[string]string{}
	}
	return notificationResponse{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Body:      n.Body,
		Data:      data,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}
