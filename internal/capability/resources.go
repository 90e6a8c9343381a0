package capability

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/gate4ai/mcpcore/internal/session"
	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"go.uber.org/zap"
)

// SubscriptionOperation represents the type of subscription event.
type SubscriptionOperation int

const (
	Subscribe   SubscriptionOperation = iota // Client subscribed to a resource
	Unsubscribe                              // Client unsubscribed from a resource
)

// SubscriptionHandler is a function type for callbacks on subscription events.
type SubscriptionHandler func(session shared.ISession, operation SubscriptionOperation, uri string, count int)

// ResourceHandler processes a resource read request.
type ResourceHandler func(msg *shared.Message) (schema.Meta, []schema.ResourceContents, error)

var _ shared.IServerCapability = (*ResourcesCapability)(nil)

// ResourcesCapability handles resource registration, reading, URI templates,
// and the optional subscribe/unsubscribe family. The default
// implementation here never sets ServerCapabilities.Resources.Subscribe to
// true until a caller explicitly registers a subscription handler: MCP
// leaves "subscribe" semantics optional, and capability truthfulness requires the
// capability advertisement to stay truthful, so an unused subscription path
// must not be advertised.
type ResourcesCapability struct {
	logger                *zap.Logger
	manager                session.ISessionManager
	mu                    sync.RWMutex
	resources             map[string]*Resource
	templates             map[string]*ResourceTemplate
	subscribers           map[string]map[string]bool // URI -> SessionID -> true
	subscribeOnSubscribes []SubscriptionHandler
	handlers              map[string]func(*shared.Message) (interface{}, error)
	roots                 *RootsCapability
}

// SetRootsValidator wires a RootsCapability's path-boundary check into
// resources/read (path-traversal attempts are rejected). Optional: a
// server with no RootsCapability registered enforces no boundary at all.
func (rc *ResourcesCapability) SetRootsValidator(roots *RootsCapability) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.roots = roots
}

// Resource is a registered resource entity.
type Resource struct {
	schema.Resource
	Handler      ResourceHandler
	LastModified time.Time
}

// ResourceTemplate is a registered URI-template resource.
type ResourceTemplate struct {
	schema.ResourceTemplate
	Handler ResourceHandler // Optional handler for templates
}

// NewResourcesCapability creates a new ResourcesCapability.
func NewResourcesCapability(manager session.ISessionManager, logger *zap.Logger) *ResourcesCapability {
	rc := &ResourcesCapability{
		manager:               manager,
		logger:                logger.Named("resources-capability"),
		resources:             make(map[string]*Resource),
		templates:             make(map[string]*ResourceTemplate),
		subscribers:           make(map[string]map[string]bool),
		subscribeOnSubscribes: make([]SubscriptionHandler, 0),
	}
	rc.handlers = map[string]func(*shared.Message) (interface{}, error){
		"resources/list":           rc.handleResourcesList,
		"resources/read":           rc.handleResourcesRead,
		"resources/subscribe":      rc.handleResourcesSubscribe,
		"resources/unsubscribe":    rc.handleResourcesUnsubscribe,
		"resources/templates/list": rc.handleResourceTemplatesList,
	}
	return rc
}

func (rc *ResourcesCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return rc.handlers
}

// SetCapabilities advertises Resources only once at least one resource or
// template is registered; Subscribe is true only once a
// subscription handler has actually been wired up.
func (rc *ResourcesCapability) SetCapabilities(s *schema.ServerCapabilities) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if len(rc.resources) == 0 && len(rc.templates) == 0 {
		return
	}
	s.Resources = &schema.CapabilityWithSubscribe{
		ListChanged: true,
		Subscribe:   len(rc.subscribeOnSubscribes) > 0,
	}
}

// AddResource registers a new resource.
func (rc *ResourcesCapability) AddResource(uri string, name string, description string, mimeType string, handler ResourceHandler) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, exists := rc.resources[uri]; exists {
		return fmt.Errorf("resource %q already exists", uri)
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil for resource %q", uri)
	}
	rc.resources[uri] = &Resource{
		Resource: schema.Resource{
			URI:         uri,
			Name:        name,
			Description: description,
			MimeType:    mimeType,
		},
		Handler:      handler,
		LastModified: time.Now(),
	}
	rc.logger.Info("added resource", zap.String("uri", uri))
	go rc.broadcastResourcesListChanged()
	return nil
}

// UpdateResource replaces an existing resource's metadata and handler.
func (rc *ResourcesCapability) UpdateResource(uri string, name string, description string, mimeType string, handler ResourceHandler) error {
	rc.mu.Lock()
	resource, exists := rc.resources[uri]
	if !exists {
		rc.mu.Unlock()
		return fmt.Errorf("resource %q not found", uri)
	}
	if handler == nil {
		rc.mu.Unlock()
		return fmt.Errorf("handler cannot be nil for resource %q", uri)
	}
	resource.Name = name
	resource.Description = description
	resource.MimeType = mimeType
	resource.Handler = handler
	resource.LastModified = time.Now()
	rc.mu.Unlock()
	rc.logger.Info("updated resource", zap.String("uri", uri))
	go rc.NotifyResourceUpdated(uri)
	return nil
}

// DeleteResource removes a resource.
func (rc *ResourcesCapability) DeleteResource(uri string) error {
	rc.mu.Lock()
	if _, exists := rc.resources[uri]; !exists {
		rc.mu.Unlock()
		return fmt.Errorf("resource %q not found", uri)
	}
	delete(rc.resources, uri)
	delete(rc.subscribers, uri)
	rc.mu.Unlock()
	rc.logger.Info("deleted resource", zap.String("uri", uri))
	go rc.broadcastResourcesListChanged()
	return nil
}

// AddResourceTemplate registers a new URI-template resource.
func (rc *ResourcesCapability) AddResourceTemplate(uriTemplate string, name string, description string, mimeType string, handler ResourceHandler) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, exists := rc.templates[uriTemplate]; exists {
		return fmt.Errorf("template %q already exists", uriTemplate)
	}
	rc.templates[uriTemplate] = &ResourceTemplate{
		ResourceTemplate: schema.ResourceTemplate{
			URITemplate: uriTemplate,
			Name:        name,
			Description: description,
			MimeType:    mimeType,
		},
		Handler: handler,
	}
	rc.logger.Info("added resource template", zap.String("uriTemplate", uriTemplate))
	return nil
}

// DeleteResourceTemplate removes a URI-template resource.
func (rc *ResourcesCapability) DeleteResourceTemplate(uriTemplate string) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, exists := rc.templates[uriTemplate]; !exists {
		return fmt.Errorf("template %q not found", uriTemplate)
	}
	delete(rc.templates, uriTemplate)
	rc.logger.Info("deleted resource template", zap.String("uriTemplate", uriTemplate))
	return nil
}

// TriggerResourceUpdate marks a resource as modified and notifies subscribers.
func (rc *ResourcesCapability) TriggerResourceUpdate(uri string) error {
	rc.mu.Lock()
	resource, exists := rc.resources[uri]
	if !exists {
		rc.mu.Unlock()
		return fmt.Errorf("resource %q not found", uri)
	}
	resource.LastModified = time.Now()
	rc.mu.Unlock()
	go rc.NotifyResourceUpdated(uri)
	return nil
}

func (rc *ResourcesCapability) broadcastResourcesListChanged() {
	rc.manager.NotifyEligibleSessions("notifications/resources/list_changed", nil)
}

// NotifyResourceUpdated journals notifications/resources/updated to every
// session subscribed to uri.
func (rc *ResourcesCapability) NotifyResourceUpdated(uri string) {
	rc.mu.RLock()
	subscribersMap, exists := rc.subscribers[uri]
	if !exists || len(subscribersMap) == 0 {
		rc.mu.RUnlock()
		return
	}
	subscriberIDs := make([]string, 0, len(subscribersMap))
	for id := range subscribersMap {
		subscriberIDs = append(subscriberIDs, id)
	}
	rc.mu.RUnlock()

	notificationParams := &schema.ResourceUpdatedNotificationParams{URI: uri}
	rc.logger.Debug("notifying subscribers about resource update", zap.String("uri", uri), zap.Int("count", len(subscriberIDs)))

	var wg sync.WaitGroup
	for _, sessionID := range subscriberIDs {
		wg.Add(1)
		go func(sID string) {
			defer wg.Done()
			s, err := rc.manager.GetSession(sID)
			if err != nil {
				rc.logger.Warn("subscriber session gone, dropping subscription", zap.Error(err), zap.String("uri", uri), zap.String("sessionID", sID))
				rc.forceRemoveSubscription(sID, uri)
				return
			}
			s.SendNotification("notifications/resources/updated", notificationParams.AsMap())
		}(sessionID)
	}
	wg.Wait()
}

func (rc *ResourcesCapability) handleResourcesList(msg *shared.Message) (interface{}, error) {
	var params schema.ListResourcesRequestParams
	if msg.Params != nil {
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)})
		}
	}
	rc.mu.RLock()
	names := make([]string, 0, len(rc.resources))
	for uri := range rc.resources {
		names = append(names, uri)
	}
	page, next, hasMore, err := paginateByName(names, params.Cursor, params.Limit)
	if err != nil {
		rc.mu.RUnlock()
		return nil, err
	}
	resourcesList := make([]schema.Resource, 0, len(page))
	for _, uri := range page {
		resourcesList = append(resourcesList, rc.resources[uri].Resource)
	}
	total := len(names)
	rc.mu.RUnlock()

	nextCursor, meta := paginationResult(next, total, hasMore)
	return schema.ListResourcesResult{
		PaginatedResult: schema.PaginatedResult{NextCursor: nextCursor},
		Meta:            meta,
		Resources:       resourcesList,
	}, nil
}

func (rc *ResourcesCapability) handleResourcesRead(msg *shared.Message) (interface{}, error) {
	logger := rc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "resources/read"))
	var params schema.ReadResourceRequestParams
	if msg.Params == nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "missing params"})
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)})
	}
	logger = logger.With(zap.String("uri", params.URI))

	rc.mu.RLock()
	resource, exists := rc.resources[params.URI]
	roots := rc.roots
	rc.mu.RUnlock()
	if roots != nil && !roots.ValidatePath(params.URI) {
		logger.Warn("resource URI rejected by root boundary check")
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("uri outside configured roots: %s", params.URI)})
	}
	if !exists {
		logger.Warn("resource not found")
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("resource not found: %s", params.URI)})
	}
	if resource.Handler == nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: fmt.Sprintf("no handler registered for resource %s", params.URI)})
	}
	meta, contents, err := resource.Handler(msg)
	if err != nil {
		logger.Error("resource handler failed", zap.Error(err))
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: fmt.Sprintf("handler failed: %v", err)})
	}
	return schema.ReadResourceResult{Meta: meta, Contents: contents}, nil
}

func (rc *ResourcesCapability) handleResourceTemplatesList(msg *shared.Message) (interface{}, error) {
	var params schema.ListResourceTemplatesRequestParams
	if msg.Params != nil {
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)})
		}
	}
	rc.mu.RLock()
	names := make([]string, 0, len(rc.templates))
	for uriTemplate := range rc.templates {
		names = append(names, uriTemplate)
	}
	page, next, hasMore, err := paginateByName(names, params.Cursor, params.Limit)
	if err != nil {
		rc.mu.RUnlock()
		return nil, err
	}
	templatesList := make([]schema.ResourceTemplate, 0, len(page))
	for _, uriTemplate := range page {
		templatesList = append(templatesList, rc.templates[uriTemplate].ResourceTemplate)
	}
	total := len(names)
	rc.mu.RUnlock()

	nextCursor, meta := paginationResult(next, total, hasMore)
	return schema.ListResourceTemplatesResult{
		PaginatedResult:   schema.PaginatedResult{NextCursor: nextCursor},
		Meta:              meta,
		ResourceTemplates: templatesList,
	}, nil
}

// AddSubscriptionHandler registers a callback invoked on every
// subscribe/unsubscribe; registering the first one flips Subscribe to true
// in the next SetCapabilities call.
func (rc *ResourcesCapability) AddSubscriptionHandler(handler SubscriptionHandler) {
	if handler == nil {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.subscribeOnSubscribes = append(rc.subscribeOnSubscribes, handler)
}

// RemoveSubscriptionHandler removes a previously registered handler.
func (rc *ResourcesCapability) RemoveSubscriptionHandler(handler SubscriptionHandler) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	targetPtr := reflect.ValueOf(handler).Pointer()
	newHandlers := rc.subscribeOnSubscribes[:0]
	for _, h := range rc.subscribeOnSubscribes {
		if reflect.ValueOf(h).Pointer() != targetPtr {
			newHandlers = append(newHandlers, h)
		}
	}
	rc.subscribeOnSubscribes = newHandlers
}

func (rc *ResourcesCapability) notifySubscriptionHandlers(session shared.ISession, operation SubscriptionOperation, uri string, count int) {
	rc.mu.RLock()
	handlers := make([]SubscriptionHandler, len(rc.subscribeOnSubscribes))
	copy(handlers, rc.subscribeOnSubscribes)
	rc.mu.RUnlock()
	for _, handler := range handlers {
		go func(h SubscriptionHandler) {
			defer func() {
				if r := recover(); r != nil {
					rc.logger.Error("panic in subscription handler", zap.Any("panic", r), zap.String("uri", uri))
				}
			}()
			h(session, operation, uri, count)
		}(handler)
	}
}

// forceRemoveSubscription drops a subscription whose owning session is gone,
// without a live shared.ISession to hand the subscription handlers.
func (rc *ResourcesCapability) forceRemoveSubscription(sessionID, uri string) {
	rc.mu.Lock()
	if subscribersMap, exists := rc.subscribers[uri]; exists {
		delete(subscribersMap, sessionID)
		if len(subscribersMap) == 0 {
			delete(rc.subscribers, uri)
		}
	}
	rc.mu.Unlock()
}

func (rc *ResourcesCapability) removeSubscription(session shared.ISession, uri string) {
	rc.mu.Lock()
	var currentCount int
	wasSubscribed := false
	if subscribersMap, exists := rc.subscribers[uri]; exists {
		if _, subscribed := subscribersMap[session.GetID()]; subscribed {
			wasSubscribed = true
			delete(subscribersMap, session.GetID())
			currentCount = len(subscribersMap)
			if currentCount == 0 {
				delete(rc.subscribers, uri)
			}
		}
	}
	rc.mu.Unlock()

	if wasSubscribed {
		rc.logger.Info("resource subscription removed", zap.String("uri", uri), zap.String("sessionID", session.GetID()))
		go rc.notifySubscriptionHandlers(session, Unsubscribe, uri, currentCount)
	}
}

func (rc *ResourcesCapability) handleResourcesSubscribe(msg *shared.Message) (interface{}, error) {
	logger := rc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "resources/subscribe"))
	var params schema.SubscribeRequestParams
	if msg.Params == nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "missing params"})
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)})
	}
	logger = logger.With(zap.String("uri", params.URI))

	rc.mu.Lock()
	if _, exists := rc.resources[params.URI]; !exists {
		rc.mu.Unlock()
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("cannot subscribe to unknown resource: %s", params.URI)})
	}
	if rc.subscribers[params.URI] == nil {
		rc.subscribers[params.URI] = make(map[string]bool)
	}
	isNewSubscription := !rc.subscribers[params.URI][msg.Session.GetID()]
	rc.subscribers[params.URI][msg.Session.GetID()] = true
	currentCount := len(rc.subscribers[params.URI])
	rc.mu.Unlock()

	if isNewSubscription {
		logger.Info("resource subscription added", zap.Int("currentCount", currentCount))
		go rc.notifySubscriptionHandlers(msg.Session, Subscribe, params.URI, currentCount)
	}
	return map[string]interface{}{}, nil
}

func (rc *ResourcesCapability) handleResourcesUnsubscribe(msg *shared.Message) (interface{}, error) {
	var params schema.UnsubscribeRequestParams
	if msg.Params == nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "missing params"})
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)})
	}
	rc.removeSubscription(msg.Session, params.URI)
	return map[string]interface{}{}, nil
}

// GetSubscribedResources returns every URI with at least one active subscriber.
func (rc *ResourcesCapability) GetSubscribedResources() []string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	uris := make([]string, 0, len(rc.subscribers))
	for uri, subs := range rc.subscribers {
		if len(subs) > 0 {
			uris = append(uris, uri)
		}
	}
	return uris
}
