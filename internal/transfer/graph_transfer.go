package transfer

// GraphErrorResponse is the error envelope shared by the WhatsApp Cloud API
// and the Instagram Graph API.
type GraphErrorResponse struct {
	Error struct {
		Message        string `json:"message"`
		Type           string `json:"type"`
		Code           int    `json:"code"`
		ErrorSubcode   int    `json:"error_subcode"`
		IsTransient    bool   `json:"is_transient"`
		ErrorUserTitle string `json:"error_user_title"`
		ErrorUserMsg   string `json:"error_user_msg"`
		FbtraceID      string `json:"fbtrace_id"`
	} `json:"error"`
}

type WhatsAppMessage struct {
	MessagingProduct string            `json:"messaging_product"`
	RecipientType    string            `json:"recipient_type,omitempty"`
	To               string            `json:"to"`
	Type             string            `json:"type"`
	Text             *WhatsAppText     `json:"text,omitempty"`
	Image            *WhatsAppMedia    `json:"image,omitempty"`
	Video            *WhatsAppMedia    `json:"video,omitempty"`
	Template         *WhatsAppTemplate `json:"template,omitempty"`
}

type WhatsAppText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type WhatsAppMedia struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type WhatsAppTemplate struct {
	Name       string                      `json:"name"`
	Language   WhatsAppTemplateLanguage    `json:"language"`
	Components []WhatsAppTemplateComponent `json:"components,omitempty"`
}

type WhatsAppTemplateLanguage struct {
	Code string `json:"code"`
}

type WhatsAppTemplateComponent struct {
	Type       string                      `json:"type"`
	Parameters []WhatsAppTemplateParameter `json:"parameters"`
}

type WhatsAppTemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type WhatsAppSendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type InstagramContainerRequest struct {
	ImageURL    string `json:"image_url,omitempty"`
	VideoURL    string `json:"video_url,omitempty"`
	MediaType   string `json:"media_type,omitempty"`
	ShareToFeed bool   `json:"share_to_feed,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

type InstagramPublishRequest struct {
	CreationID string `json:"creation_id"`
}

type InstagramIDResponse struct {
	ID string `json:"id"`
}

type InstagramContainerStatus struct {
	ID         string `json:"id"`
	StatusCode string `json:"status_code"`
	Status     string `json:"status"`
}

type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}
