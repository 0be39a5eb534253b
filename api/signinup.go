package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/authsdk"
	"github.com/MrEthical07/authsdk/user"
)

type thirdPartyIn struct {
	ThirdPartyID string `json:"thirdPartyId"`
	authsdk.ProviderInput
}

type formField struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type emailPasswordIn struct {
	FormFields []formField `json:"formFields"`
}

func (in emailPasswordIn) field(id string) string {
	for _, f := range in.FormFields {
		if f.ID == id {
			return f.Value
		}
	}
	return ""
}

type signInUpOut struct {
	Status               authsdk.Status    `json:"status"`
	User                 *user.User        `json:"user,omitempty"`
	RecipeUserID         user.RecipeUserID `json:"recipeUserId,omitempty"`
	CreatedNewRecipeUser *bool             `json:"createdNewRecipeUser,omitempty"`
	Reason               string            `json:"reason,omitempty"`
	ErrorCode            string            `json:"errorCode,omitempty"`
}

func (h *Handler) thirdPartySignInUp(w http.ResponseWriter, r *http.Request) {
	var in thirdPartyIn
	if !decode(w, r, &in) {
		return
	}
	res, err := h.engine.ThirdPartySignInUpPOST(r.Context(), chi.URLParam(r, "tenant"), in.ThirdPartyID, in.ProviderInput, sessionFrom(r))
	h.writeSignInUp(w, r, res, err)
}

func (h *Handler) emailPasswordSignUp(w http.ResponseWriter, r *http.Request) {
	in, ok := h.emailPasswordInput(w, r)
	if !ok {
		return
	}
	res, err := h.engine.EmailPasswordSignUpPOST(r.Context(), in)
	h.writeSignInUp(w, r, res, err)
}

func (h *Handler) emailPasswordSignIn(w http.ResponseWriter, r *http.Request) {
	in, ok := h.emailPasswordInput(w, r)
	if !ok {
		return
	}
	res, err := h.engine.EmailPasswordSignInPOST(r.Context(), in)
	h.writeSignInUp(w, r, res, err)
}

func (h *Handler) emailPasswordInput(w http.ResponseWriter, r *http.Request) (authsdk.EmailPasswordInput, bool) {
	var body emailPasswordIn
	if !decode(w, r, &body) {
		return authsdk.EmailPasswordInput{}, false
	}
	return authsdk.EmailPasswordInput{
		TenantID: chi.URLParam(r, "tenant"),
		Email:    body.field("email"),
		Password: body.field("password"),
		Session:  sessionFrom(r),
	}, true
}

func (h *Handler) writeSignInUp(w http.ResponseWriter, r *http.Request, res authsdk.SignInUpResult, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := signInUpOut{Status: res.Status}
	if res.Status != authsdk.StatusOK {
		out.Reason = res.Reason
		out.ErrorCode = res.ErrorCode
		writeJSON(w, http.StatusOK, out)
		return
	}
	created := res.CreatedNewRecipeUser
	out.User = res.User
	out.RecipeUserID = res.RecipeUserID
	out.CreatedNewRecipeUser = &created
	setAccessToken(w, res.Session)
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	if err := sessionFrom(r).Revoke(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}
