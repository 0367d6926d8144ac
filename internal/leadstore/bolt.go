package leadstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
)

var (
	leadsBucket   = []byte("leads")
	reportsBucket = []byte("reports")
)

// Store persists lead-qualification sessions per conversation, so a lead
// survives process restarts and never leaks into another contact's chat.
type Store interface {
	Save(id model.Identity, lead *model.LeadSession) error
	Get(id model.Identity) (*model.LeadSession, error)
	SaveReport(id model.Identity, report string) error
	Report(id model.Identity) (string, error)
	Close() error
}

type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(leadsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(reportsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating lead buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func leadKey(id model.Identity) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", id.Phone, id.Project, id.Protocol))
}

func (s *BoltStore) Save(id model.Identity, lead *model.LeadSession) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(lead)
		if err != nil {
			return err
		}
		return tx.Bucket(leadsBucket).Put(leadKey(id), data)
	})
}

// Get returns the stored session, or a fresh empty one when none exists.
func (s *BoltStore) Get(id model.Identity) (*model.LeadSession, error) {
	lead := &model.LeadSession{}
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(leadsBucket).Get(leadKey(id))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, lead)
	})
	if err != nil {
		return nil, err
	}
	return lead, nil
}

func (s *BoltStore) SaveReport(id model.Identity, report string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(reportsBucket).Put(leadKey(id), []byte(report))
	})
}

func (s *BoltStore) Report(id model.Identity) (string, error) {
	var report string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(reportsBucket).Get(leadKey(id)); v != nil {
			report = string(v)
		}
		return nil
	})
	return report, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BoltStore)(nil)

// BuildReport renders the qualification summary attached to the sales
// notification e-mail.
func BuildReport(lead *model.LeadSession) string {
	orNotInformed := func(v string) string {
		if strings.TrimSpace(v) == "" {
			return "Não informado"
		}
		return v
	}

	var b strings.Builder
	b.WriteString("Resultado da Qualificação do Lead\n")
	b.WriteString("===============================\n")
	fmt.Fprintf(&b, "Nome: %s\n", orNotInformed(lead.Name))
	fmt.Fprintf(&b, "Email: %s\n", orNotInformed(lead.Email))
	fmt.Fprintf(&b, "Site: %s\n", orNotInformed(lead.CompanySite))
	fmt.Fprintf(&b, "Cargo: %s\n", orNotInformed(lead.Role))
	fmt.Fprintf(&b, "Número: %s\n", orNotInformed(lead.Phone))
	fmt.Fprintf(&b, "CNPJ: %s\n", orNotInformed(lead.Document))
	fmt.Fprintf(&b, "Interesse: %s\n", orNotInformed(lead.Interest))
	fmt.Fprintf(&b, "Tamanho do Time: %s\n", orNotInformed(lead.TeamSize))
	fmt.Fprintf(&b, "Segmento: %s\n", orNotInformed(lead.Segment))
	fmt.Fprintf(&b, "Status do Lead: %s\n", orNotInformed(lead.Status))
	b.WriteString("\nExplicação:\n")

	switch lead.Status {
	case model.LeadStatusHot:
		b.WriteString("Este lead é considerado QUENTE porque atende aos critérios:\n" +
			"- Empresa com mais de 5 funcionários\n" +
			"- Possui site ativo\n" +
			"- Tem interesse real em algum produto/case da Robbu\n")
	case model.LeadStatusCold:
		b.WriteString("Este lead é considerado FRIO porque não atende a todos os critérios necessários:\n" +
			"- Empresa com mais de 5 funcionários\n" +
			"- Possui site ativo\n" +
			"- Tem interesse real em algum produto/case da Robbu\n")
	default:
		b.WriteString("Status do lead é DESQUALIFICADO ou outro.\n")
	}
	return b.String()
}
