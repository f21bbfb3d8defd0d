package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samvad-hq/review-harvester/internal/domain"
)

// shopeeLoginErrorCodes are seller-centre error codes that mean the session expired.
var shopeeLoginErrorCodes = map[int]bool{19: true, 90309999: true}

// shopeeFetcher pulls shop ratings from the Shopee seller-centre API.
type shopeeFetcher struct {
	client  HTTPClient
	session Session
}

// NewShopeeFetcher builds a fetcher for Shopee shop ratings.
func NewShopeeFetcher(client HTTPClient, session Session) Fetcher {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &shopeeFetcher{client: client, session: session}
}

func (f *shopeeFetcher) Type() string { return TypeShopee }

func (f *shopeeFetcher) FetchPage(ctx context.Context, src Source, req domain.PageRequest) (domain.PageResult, error) {
	if src.Type != TypeShopee {
		return domain.PageResult{}, fmt.Errorf("shopee fetcher received incompatible source %q", src.ID)
	}

	endpoint := shopeeEndpoint(src, req)
	resp, err := get(ctx, f.client, f.session, src, endpoint, map[string]string{"Accept": "application/json"})
	if err != nil {
		return domain.PageResult{}, err
	}

	var payload shopeeResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return domain.PageResult{}, fmt.Errorf("decode shopee ratings for %s: %w", src.ID, err)
	}
	if shopeeLoginErrorCodes[payload.Error] {
		return domain.PageResult{}, fmt.Errorf("shopee %s error %d %q: %w", src.ID, payload.Error, payload.ErrorMsg, domain.ErrAuthentication)
	}

	// "co.id" style domains serve images from the region after the last dot.
	country := ConfigString(src, ConfigCountryKey, "")
	if i := strings.LastIndex(country, "."); i >= 0 {
		country = country[i+1:]
	}
	items := make([]domain.RawItem, 0, len(payload.Data.Items))
	for _, it := range payload.Data.Items {
		it.country = country
		items = append(items, it)
	}

	result := domain.PageResult{
		Items:     items,
		Total:     payload.Data.Total,
		ErrorCode: payload.Error,
		Message:   payload.ErrorMsg,
	}
	if payload.Data.Cursor != nil {
		result.Pagination = map[string]any{"cursor": payload.Data.Cursor}
	}
	return result, nil
}

// shopeeEndpoint pages by offset only. The ratings API ignores the response cursor, so
// req.Cursor is never sent; it is captured for page logs.
func shopeeEndpoint(src Source, req domain.PageRequest) string {
	base := src.SourceURL
	if base == "" {
		base = "https://shopee." + ConfigString(src, ConfigCountryKey, "sg")
	}
	size := req.PageSize
	if size <= 0 {
		size = src.PageSize
	}
	page := req.PageNumber
	if page < 1 {
		page = 1
	}

	q := url.Values{}
	q.Set("userid", ConfigString(src, ConfigUserIDKey, ""))
	q.Set("shopid", ConfigString(src, ConfigShopIDKey, ""))
	q.Set("limit", strconv.Itoa(size))
	q.Set("offset", strconv.Itoa((page-1)*size))
	q.Set("replied", "undefined")
	return base + "/api/v4/seller_operation/get_shop_ratings_new?" + q.Encode()
}

type shopeeResponse struct {
	Error    int    `json:"error"`
	ErrorMsg string `json:"error_msg"`
	Data     struct {
		Items  []shopeeRating `json:"items"`
		Total  int           `json:"total"`
		Cursor any           `json:"cursor"`
	} `json:"data"`
}

// shopeeRating is one shop rating as served by the seller centre.
type shopeeRating struct {
	CmtID          json.Number `json:"cmtid"`
	CTime          int64       `json:"ctime"`
	RatingStar     int         `json:"rating_star"`
	Comment        string      `json:"comment"`
	AuthorUsername string      `json:"author_username"`
	LikeCount      int         `json:"like_count"`
	ProductItems   []struct {
		ItemID    json.Number `json:"itemid"`
		Name      string      `json:"name"`
		ModelName string      `json:"model_name"`
	} `json:"product_items"`
	Medias []struct {
		Image *struct {
			ImageID string `json:"image_id"`
		} `json:"image"`
		Video *struct {
			URL string `json:"url"`
		} `json:"video"`
	} `json:"medias"`
	DetailedRating struct {
		ProductQuality  int `json:"product_quality"`
		SellerService   int `json:"seller_service"`
		DeliveryService int `json:"delivery_service"`
	} `json:"detailed_rating"`
	Reply *struct {
		Comment string `json:"comment"`
	} `json:"ItemRatingReply"`

	country string
}

func (r shopeeRating) ItemID() any { return r.CmtID }

func (r shopeeRating) Review(sourceName string, collectedAt time.Time) domain.Review {
	rev := domain.Review{
		SourceID:    r.CmtID.String(),
		SourceName:  sourceName,
		Author:      strings.TrimSpace(r.AuthorUsername),
		Rating:      r.RatingStar,
		Content:     strings.TrimSpace(r.Comment),
		CollectedAt: collectedAt,
		LikesCount:  r.LikeCount,
		DetailedRating: domain.DetailedRating{
			Product:  r.DetailedRating.ProductQuality,
			Seller:   r.DetailedRating.SellerService,
			Delivery: r.DetailedRating.DeliveryService,
		},
		// Only verified buyers can rate a shop order.
		VerifiedPurchase: true,
	}
	if r.CTime > 0 {
		rev.Date = time.Unix(r.CTime, 0).UTC()
	}
	if len(r.ProductItems) > 0 {
		p := r.ProductItems[0]
		rev.ProductID = p.ItemID.String()
		rev.ProductName = strings.TrimSpace(p.Name)
		rev.ItemType = strings.TrimSpace(p.ModelName)
	}
	for _, m := range r.Medias {
		if m.Image != nil && m.Image.ImageID != "" {
			rev.ImageURLs = append(rev.ImageURLs, shopeeImageURL(r.country, m.Image.ImageID))
		}
		if m.Video != nil && m.Video.URL != "" {
			rev.VideoURLs = append(rev.VideoURLs, m.Video.URL)
		}
	}
	if r.Reply != nil {
		rev.ReplyContent = strings.TrimSpace(r.Reply.Comment)
	}
	return rev
}

func shopeeImageURL(country, imageID string) string {
	if country == "" {
		country = "sg"
	}
	return fmt.Sprintf("https://down-%s.img.susercontent.com/%s", country, imageID)
}
