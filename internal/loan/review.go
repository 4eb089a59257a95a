package loan

import (
	"context"

	"github.com/mediloan/mediloan/internal/storage"
)

// Rating buckets a 0-100 score.
func Rating(score float64) string {
	switch {
	case score >= 80:
		return "Excellent"
	case score >= 60:
		return "Good"
	case score >= 40:
		return "Fair"
	default:
		return "Poor"
	}
}

// ScoreView is one credit score as shown to a reviewer. Unscored values
// count as zero.
type ScoreView struct {
	Key    string  `json:"key"`
	Label  string  `json:"label"`
	Score  float64 `json:"score"`
	Rating string  `json:"rating"`
	Scored bool    `json:"scored"`
}

func scoreView(key, label string, v *float64) ScoreView {
	sv := ScoreView{Key: key, Label: label, Scored: v != nil}
	if v != nil {
		sv.Score = *v
	}
	sv.Rating = Rating(sv.Score)
	return sv
}

// GuarantorView adds the public URL of the ID scan.
type GuarantorView struct {
	Guarantor
	IDDocumentURL string `json:"id_document_public_url,omitempty"`
}

// Images are the public URLs of the application photos.
type Images struct {
	Home   string   `json:"home,omitempty"`
	Shop   string   `json:"shop,omitempty"`
	Assets []string `json:"assets"`
}

// Review is the full record shown to a reviewer.
type Review struct {
	Application Application                 `json:"application"`
	Guarantors  []GuarantorView             `json:"guarantors"`
	Analysis    map[string][]map[string]any `json:"analysis"`
	Images      Images                      `json:"images"`
	Scores      []ScoreView                 `json:"scores"`
	Total       ScoreView                   `json:"total_credit_score"`
}

var reviewCategories = []string{CategoryBank, CategoryPayslip, CategoryCallLogs, CategoryMpesa, CategoryAssets, CategoryShop}

func (s *Service) publicURL(bucket, path string) string {
	if path == "" {
		return ""
	}
	return s.store.PublicURL(bucket, path)
}

// Review loads an application with guarantors, grouped analysis results,
// photo URLs and score ratings.
func (s *Service) Review(ctx context.Context, id string) (Review, error) {
	rec, err := s.repo.Detail(ctx, id)
	if err != nil {
		return Review{}, err
	}
	a := rec.Application

	r := Review{
		Application: a,
		Guarantors:  make([]GuarantorView, 0, len(rec.Guarantors)),
		Analysis:    make(map[string][]map[string]any, len(reviewCategories)),
		Images: Images{
			Home:   s.publicURL(storage.BucketAssets, a.HomePhotoPath),
			Shop:   s.publicURL(storage.BucketAssets, a.ShopPhotoPath),
			Assets: make([]string, 0, len(a.AssetPaths)),
		},
		Scores: []ScoreView{
			scoreView("bank_statement_score", "Bank Statement", a.BankStatement),
			scoreView("mpesa_score", "M-Pesa", a.Mpesa),
			scoreView("gps_score", "GPS", a.GPS),
			scoreView("assets_score", "Assets", a.Assets),
			scoreView("call_logs_score", "Call Logs", a.CallLogs),
			scoreView("payslips_score", "Payslips", a.Payslips),
		},
		Total: scoreView("total_credit_score", "Total Credit Score", a.Total),
	}
	for _, c := range reviewCategories {
		r.Analysis[c] = []map[string]any{}
	}
	for _, row := range rec.Analyses {
		r.Analysis[row.Category] = append(r.Analysis[row.Category], row.Payload)
	}
	for _, p := range a.AssetPaths {
		r.Images.Assets = append(r.Images.Assets, s.publicURL(storage.BucketAssets, p))
	}
	for _, g := range rec.Guarantors {
		r.Guarantors = append(r.Guarantors, GuarantorView{
			Guarantor:     g,
			IDDocumentURL: s.publicURL(storage.BucketDocuments, g.IDDocumentPath),
		})
	}
	return r, nil
}
