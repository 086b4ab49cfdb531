package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/franciscosanchezn/gin-oauth-token/internal/models"
)

const (
	boltDirPerm     = fs.FileMode(0o700)
	boltFilePerm    = fs.FileMode(0o600)
	boltOpenTimeout = 5 * time.Second
)

var (
	clientsBucket      = []byte("oauth_clients")
	codesBucket        = []byte("oauth_codes")
	tokensBucket       = []byte("oauth_tokens")
	refreshIndexBucket = []byte("oauth_refresh_index")
)

// Compile-time interface assertions.
var (
	_ ClientStore = (*BoltStore)(nil)
	_ Purger      = (*BoltStore)(nil)
	_ CodeStore   = boltCodes{}
	_ TokenStore  = boltTokens{}
)

// BoltStore keeps clients, codes and tokens in a single bbolt file. bbolt
// runs one write transaction at a time, so every find-and-delete and every
// rotation is serialized against its competitors.
type BoltStore struct {
	db *bolt.DB
	tokenIssuer
}

// OpenBoltStore opens (creating if needed) the database at path.
func OpenBoltStore(path string, opts TokenOptions) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), boltDirPerm); err != nil {
		return nil, fmt.Errorf("creating bolt directory: %w", err)
	}

	db, err := bolt.Open(path, boltFilePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{clientsBucket, codesBucket, tokensBucket, refreshIndexBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing bolt db: %w", err)
	}

	return &BoltStore{db: db, tokenIssuer: newTokenIssuer(opts)}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Codes returns the CodeStore view of the database.
func (s *BoltStore) Codes() CodeStore {
	return boltCodes{s}
}

// Tokens returns the TokenStore view of the database.
func (s *BoltStore) Tokens() TokenStore {
	return boltTokens{s}
}

// PutClient registers or replaces a client. Used by seeding; the token
// endpoint itself never writes clients.
func (s *BoltStore) PutClient(ctx context.Context, client *models.OAuthClient) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(clientsBucket), client.ID, client)
	})
}

func (s *BoltStore) FindByClientID(ctx context.Context, clientID string) (*models.OAuthClient, error) {
	var client models.OAuthClient
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(clientsBucket), clientID, &client)
	})
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// PurgeExpired removes expired codes and tokens whose refresh token expired.
func (s *BoltStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var purged int64
	err := s.update(ctx, func(tx *bolt.Tx) error {
		codes := tx.Bucket(codesBucket)
		var expiredCodes [][]byte
		err := codes.ForEach(func(k, v []byte) error {
			var code models.OAuthCode
			if err := json.Unmarshal(v, &code); err != nil {
				return err
			}
			if code.IsExpiredAt(now) {
				expiredCodes = append(expiredCodes, k)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expiredCodes {
			if err := codes.Delete(k); err != nil {
				return err
			}
		}

		tokens := tx.Bucket(tokensBucket)
		var expiredTokens []models.OAuthToken
		err = tokens.ForEach(func(_, v []byte) error {
			var token models.OAuthToken
			if err := json.Unmarshal(v, &token); err != nil {
				return err
			}
			if token.IsRefreshExpiredAt(now) {
				expiredTokens = append(expiredTokens, token)
			}
			return nil
		})
		if err != nil {
			return err
		}
		index := tx.Bucket(refreshIndexBucket)
		for _, token := range expiredTokens {
			if err := tokens.Delete([]byte(token.ID)); err != nil {
				return err
			}
			if err := index.Delete([]byte(token.RefreshToken)); err != nil {
				return err
			}
		}

		purged = int64(len(expiredCodes) + len(expiredTokens))
		return nil
	})
	return purged, err
}

// update and view refuse to start once ctx is done; bbolt transactions
// themselves cannot be interrupted.
func (s *BoltStore) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(fn)
}

func (s *BoltStore) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

func getJSON(b *bolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

type boltCodes struct {
	*BoltStore
}

func (s boltCodes) Create(ctx context.Context, code *models.OAuthCode) error {
	if code.CreatedAt.IsZero() {
		code.CreatedAt = s.now()
	}
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(codesBucket)
		if b.Get([]byte(code.Code)) != nil {
			return fmt.Errorf("authorization code already exists")
		}
		return putJSON(b, code.Code, code)
	})
}

func (s boltCodes) FindAndDelete(ctx context.Context, code string) (*models.OAuthCode, error) {
	var authCode models.OAuthCode
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(codesBucket)
		if err := getJSON(b, code, &authCode); err != nil {
			return err
		}
		return b.Delete([]byte(code))
	})
	if err != nil {
		return nil, err
	}
	return &authCode, nil
}

type boltTokens struct {
	*BoltStore
}

func (s boltTokens) Create(ctx context.Context, clientID, userID, scopes string) (*models.OAuthToken, error) {
	token, err := s.issue(ctx, clientID, userID, scopes, nil)
	if err != nil {
		return nil, err
	}
	err = s.update(ctx, func(tx *bolt.Tx) error {
		return putToken(tx, token)
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

func putToken(tx *bolt.Tx, token *models.OAuthToken) error {
	if err := putJSON(tx.Bucket(tokensBucket), token.ID, token); err != nil {
		return err
	}
	return tx.Bucket(refreshIndexBucket).Put([]byte(token.RefreshToken), []byte(token.ID))
}

func tokenByRefresh(tx *bolt.Tx, refreshToken string) (*models.OAuthToken, error) {
	id := tx.Bucket(refreshIndexBucket).Get([]byte(refreshToken))
	if id == nil {
		return nil, ErrNotFound
	}
	var token models.OAuthToken
	if err := getJSON(tx.Bucket(tokensBucket), string(id), &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (s boltTokens) FindActiveByRefreshToken(ctx context.Context, refreshToken string) (*models.OAuthToken, error) {
	var token *models.OAuthToken
	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		token, err = tokenByRefresh(tx, refreshToken)
		if err != nil {
			return err
		}
		if token.Revoked {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

func revokeActiveBolt(tx *bolt.Tx, tokenID string) error {
	b := tx.Bucket(tokensBucket)
	var token models.OAuthToken
	if err := getJSON(b, tokenID, &token); err != nil {
		return err
	}
	if token.Revoked {
		return ErrNotFound
	}
	token.Revoked = true
	return putJSON(b, token.ID, &token)
}

func (s boltTokens) Revoke(ctx context.Context, tokenID string) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		return revokeActiveBolt(tx, tokenID)
	})
}

func (s boltTokens) Rotate(ctx context.Context, old *models.OAuthToken) (*models.OAuthToken, error) {
	successor, err := s.issue(ctx, old.ClientID, old.UserID, old.Scopes, old)
	if err != nil {
		return nil, err
	}
	err = s.update(ctx, func(tx *bolt.Tx) error {
		if err := revokeActiveBolt(tx, old.ID); err != nil {
			return err
		}
		return putToken(tx, successor)
	})
	if err != nil {
		return nil, err
	}
	return successor, nil
}

func (s boltTokens) RevokeFamily(ctx context.Context, refreshToken string) (int64, error) {
	var revoked int64
	err := s.update(ctx, func(tx *bolt.Tx) error {
		presented, err := tokenByRefresh(tx, refreshToken)
		if err != nil {
			return err
		}
		if !presented.Revoked {
			return ErrNotFound
		}

		b := tx.Bucket(tokensBucket)
		var family []models.OAuthToken
		err = b.ForEach(func(_, v []byte) error {
			var token models.OAuthToken
			if err := json.Unmarshal(v, &token); err != nil {
				return err
			}
			if token.FamilyID == presented.FamilyID && !token.Revoked {
				family = append(family, token)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for i := range family {
			family[i].Revoked = true
			if err := putJSON(b, family[i].ID, &family[i]); err != nil {
				return err
			}
		}
		revoked = int64(len(family))
		return nil
	})
	return revoked, err
}
